// Package version carries the build identity reported by the -version flag
// and the /healthz endpoint.
package version

// Set at build time via
// -ldflags "-X github.com/meridian-data/retinotopy.report/internal/version.Version=...".
var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)
