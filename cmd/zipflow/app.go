package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
)

// appVersion is the version printed by --version.
const appVersion = "0.1.0"

const (
	// ExitCodeSuccess is the successful exit code.
	ExitCodeSuccess int = iota

	// ExitCodeFlagParseError is the exit code for a flag parsing error.
	ExitCodeFlagParseError

	// ExitCodeUnknownError is the exit code for any other error.
	ExitCodeUnknownError
)

// ErrFlagParse is a flag parsing error.
var ErrFlagParse = errors.New("parsing flags")

// ErrZipflow wraps errors from archive creation.
var ErrZipflow = errors.New("zipflow")

func newZipflowApp() *cli.App {
	return &cli.App{
		Name:    filepath.Base(os.Args[0]),
		Usage:   "Stream ZIP archives to files, pipes and sockets.",
		Version: appVersion,
		Commands: []*cli.Command{
			newCreateCommand(),
			newEstimateCommand(),
		},
		HideHelpCommand: true,
		ExitErrHandler: func(c *cli.Context, err error) {
			if err == nil {
				return
			}

			fmt.Fprintf(c.App.ErrWriter, "%s: %v\n", c.App.Name, err)
			if errors.Is(err, ErrFlagParse) {
				cli.OsExiter(ExitCodeFlagParseError)
				return
			}

			cli.OsExiter(ExitCodeUnknownError)
		},
	}
}
