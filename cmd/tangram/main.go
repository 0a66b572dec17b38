package main

import (
	"os"

	"github.com/tangramhq/tangram/cmd/tangram/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
