package main

import (
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/martin-sucha/zipflow"
)

func newEstimateCommand() *cli.Command {
	return &cli.Command{
		Name:      "estimate",
		Usage:     "print the exact byte size of a stored archive of the given paths with sizes declared up front",
		ArgsUsage: "[PATH]...",
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() == 0 {
				return fmt.Errorf("%w: no input paths", ErrFlagParse)
			}
			e := estimate{paths: ctx.Args().Slice(), out: ctx.App.Writer}
			return e.Run()
		},
	}
}

type estimate struct {
	paths []string
	out   io.Writer
}

// Run estimates the stored (uncompressed) archive size. Deflated sizes
// depend on the data, so only the store method can be predicted from file
// metadata alone.
//
// The estimate counts every file as a known-size entry without a data
// descriptor. The create command writes each file through the unknown-size
// path with a data descriptor, so its --method store output does not match
// this estimate.
func (e *estimate) Run() error {
	est := zipflow.NewEstimator()
	for _, root := range e.paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return fmt.Errorf("%w: %w", ErrZipflow, err)
			}
			name, err := entryName(root, path)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrZipflow, err)
			}
			if d.IsDir() {
				return est.AddEmptyDirectory(name)
			}
			info, err := d.Info()
			if err != nil {
				return fmt.Errorf("%w: stat %q: %w", ErrZipflow, path, err)
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			return est.AddStoredEntry(name, uint64(info.Size()))
		})
		if err != nil {
			return err
		}
	}
	size, err := est.Size()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrZipflow, err)
	}
	fmt.Fprintf(e.out, "%d\n", size)
	return nil
}
