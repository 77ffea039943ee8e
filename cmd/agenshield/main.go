package main

import "github.com/agen-co/agenshield/cmd/agenshield/cmd"

func main() {
	cmd.Execute()
}
