// Package manifestops implements the manifest maintenance workflows behind
// the enginepack-manifest binary: listing entries, re-verifying recorded
// checksums against upstream, and generating new entries from the
// per-family URL templates.
package manifestops
