package main

import (
	"fmt"
	"os"

	"github.com/danieljhkim/bspstage/internal/cli"
	"github.com/danieljhkim/bspstage/internal/logging"
)

var version = "dev"

func main() {
	cli.SetVersion(version)

	err := cli.Execute()
	logging.CloseLogFile()
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.FormatError(err))
		os.Exit(1)
	}
}
