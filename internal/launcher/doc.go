// Package launcher stages a writable per-run copy of an installed artifact
// and starts the engine against it. The underlying Java services insist on
// writing into their own installation directory, so the immutable artifact
// is never executed in place.
//
// A pid file plus a process scan guard the one concurrency invariant here:
// two live servers must never share a home directory.
package launcher
