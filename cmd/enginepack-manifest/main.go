package main

import "github.com/searchkit/enginepack/cmd/enginepack-manifest/cmd"

func main() {
	cmd.Execute()
}
