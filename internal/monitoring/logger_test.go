package monitoring

import "testing"

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("hello")
	if !called {
		t.Error("custom logger was not called")
	}

	// nil installs a no-op, not a nil func
	called = false
	SetLogger(nil)
	if Logf == nil {
		t.Fatal("Logf is nil after SetLogger(nil)")
	}
	Logf("dropped")
	if called {
		t.Error("no-op logger invoked the previous callback")
	}
}

func TestDebugf_GatedByVerbose(t *testing.T) {
	original := Logf
	originalVerbose := Verbose
	defer func() {
		Logf = original
		Verbose = originalVerbose
	}()

	count := 0
	SetLogger(func(format string, v ...interface{}) { count++ })

	Verbose = false
	Debugf("suppressed %d", 1)
	if count != 0 {
		t.Errorf("Debugf logged while Verbose=false, count=%d", count)
	}

	Verbose = true
	Debugf("emitted %d", 2)
	if count != 1 {
		t.Errorf("Debugf count = %d, want 1", count)
	}
}
