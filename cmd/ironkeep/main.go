package main

import "github.com/jmcleod/ironkeep/cmd/ironkeep/cmd"

func main() {
	cmd.Execute()
}
