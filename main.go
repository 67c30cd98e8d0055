package main

import (
	"os"

	"PPMall/cli"
)

func main() {
	os.Exit(cli.Execute())
}
