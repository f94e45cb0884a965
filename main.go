package main

import "github.com/agentic-research/vitrine/cmd"

func main() {
	cmd.Execute()
}
