// Package version exposes the build version of arcq.
package version

// Version is set at build time via -ldflags "-X github.com/arclab/arcq/internal/version.Version=..."
var Version = "dev"
