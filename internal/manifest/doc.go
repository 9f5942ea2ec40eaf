// Package manifest models the declarative version manifest: which releases
// of which package families exist, where to fetch them and what they hash to.
//
// The registry is loaded once into an immutable in-memory table and passed
// explicitly to the resolver; lookups are pure. The package also carries the
// per-family URL templates used to generate new manifest entries.
package manifest
