package main

import (
	"os"

	"git.home.luguber.info/inful/stalagmite/cmd/stalagmite/commands"
)

func main() {
	os.Exit(commands.Main(os.Args[1:], os.Stdout, os.Stderr))
}
