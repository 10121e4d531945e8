package main

import "github.com/jterm-dev/jterm/internal/cmd"

func main() {
	cmd.Execute()
}
