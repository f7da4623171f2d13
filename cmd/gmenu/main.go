package main

import "github.com/gmenu/gmenu/cmd/gmenu/commands"

func main() {
	commands.Execute()
}
