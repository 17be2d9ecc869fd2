// Package version holds the application version string.
package version

// Version is the release identifier logged at startup and reported by the
// health endpoint. Overridden at release time.
const Version = "0.3.1"
