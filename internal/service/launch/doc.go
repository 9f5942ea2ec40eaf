// Package launch wires resolution, installation and the runtime launcher
// into the workflow behind the enginepack-launch binary.
package launch
