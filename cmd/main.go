package main

import (
	"errors"
	"os"

	"pkengine/internal/cli"
	"pkengine/internal/ui"
	"pkengine/pkg/engine"
)

func main() {
	if err := cli.Execute(); err != nil {
		if errors.Is(err, cli.ErrNothingToDo) {
			ui.InfoMsg("Nothing to do")
		} else {
			ui.ErrorMsg("%s", engine.MessageOf(err))
		}
		os.Exit(cli.ExitCode(err))
	}
}
