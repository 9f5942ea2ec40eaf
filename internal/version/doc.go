// Package version exposes build metadata embedded at link time and a cobra
// subcommand shared by all enginepack binaries.
package version
