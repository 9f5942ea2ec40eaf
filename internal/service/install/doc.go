// Package install wires the manifest, resolver and installer into the
// workflow behind the enginepack-install binary.
package install
