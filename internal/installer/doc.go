// Package installer turns a (spec, recipe) pair into an immutable installed
// artifact: fetch and verify the archive, extract it, apply the recipe's
// substitutions and exclusions, assemble the expected directory layout, and
// publish the tree atomically into a content-addressed cache.
//
// Installs are reproducible: identical inputs always produce a byte-identical
// tree, so racing builders can proceed independently and last-writer-wins.
package installer
