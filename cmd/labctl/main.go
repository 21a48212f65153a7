package main

import (
	"fmt"
	"os"

	"github.com/KevinKickass/OpenLabCore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
