package main

import "github.com/sablecraft/simtick/cmd/simtick/cmd"

func main() {
	cmd.Execute()
}
