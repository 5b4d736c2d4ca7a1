package version

import "fmt"

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// UserAgent identifies this build to brokers and HTTP endpoints.
func UserAgent() string {
	return fmt.Sprintf("tempmon/%s (%s)", Version, Commit)
}
