// Package config defines settings shared by the enginepack binaries and
// provides helpers to load, validate and save them in YAML format.
//
// All fields default sensibly: a missing settings file simply means the
// default manifest path, cache directory and fetch timeout are used.
package config
