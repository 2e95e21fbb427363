package main

import (
	"fmt"
	"os"

	"github.com/roach88/ordersync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ordersync:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
