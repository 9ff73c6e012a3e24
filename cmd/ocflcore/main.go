package main

import "github.com/ocflcore/ocfl/cmd/ocflcore/cmd"

func main() {
	cmd.Execute()
}
