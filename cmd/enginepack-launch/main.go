package main

import "github.com/searchkit/enginepack/cmd/enginepack-launch/cmd"

func main() {
	cmd.Execute()
}
