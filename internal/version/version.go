package version

import "fmt"

var (
	// Version is the semantic version of the binary, set with -ldflags at build time.
	Version = "dev"
	// Commit is the git commit the binary was built from.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// UserAgent is sent with every marketplace API request.
func UserAgent() string {
	return fmt.Sprintf("collectionwatch/%s", Version)
}
