// Package fetch downloads release archives, verifies their SHA-256 checksums
// against the manifest while streaming, and unpacks them.
//
// Verified downloads are placed through go-update so that a checksum mismatch
// rolls back cleanly: no partial or corrupt archive ever lands at the final
// path. Timeouts are caller-configured and surface as TimeoutError.
package fetch
