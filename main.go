package main

import (
	"fmt"
	"os"

	"github.com/warpdl/netshift/cmd"
)

// these variables are set at build time via -ldflags
var (
	version string
	commit  string
	date    string
	osExit  = os.Exit
)

func main() {
	osExit(runMain(os.Args, run))
}

func run(args []string) error {
	return cmd.Execute(args, cmd.BuildArgs{
		Version: version,
		Commit:  commit,
		Date:    date,
	})
}

func runMain(args []string, runFunc func([]string) error) int {
	if err := runFunc(args); err != nil {
		fmt.Printf("netshift: %s\n", err.Error())
		return 1
	}
	return 0
}
