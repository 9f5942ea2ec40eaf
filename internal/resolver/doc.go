// Package resolver binds a requested (package, version) pair to its manifest
// entry and the install recipe applicable to that version.
package resolver
