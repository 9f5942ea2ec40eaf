package main

import "github.com/searchkit/enginepack/cmd/enginepack-install/cmd"

func main() {
	cmd.Execute()
}
