// Package recipe declares how a fetched distribution is transformed into an
// installable tree: which directories survive, which files are patched, and
// which subpaths are dropped.
//
// Recipes bind to package families, not versions. Steps carry semver range
// constraints that are evaluated once at resolution time, keeping version
// comparisons out of the install routine entirely.
package recipe
