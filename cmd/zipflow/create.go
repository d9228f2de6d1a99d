package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/martin-sucha/zipflow"
)

func newCreateCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "stream an archive of the given paths",
		ArgsUsage: "[PATH]...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Usage:   "write the archive to `FILE` instead of stdout",
				Aliases: []string{"o"},
			},
			&cli.StringFlag{
				Name:  "method",
				Usage: "compression method, store or deflate",
				Value: "deflate",
			},
			&cli.IntFlag{
				Name:  "level",
				Usage: "DEFLATE compression level (-2..9)",
				Value: -1,
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() == 0 {
				return fmt.Errorf("%w: no input paths", ErrFlagParse)
			}
			method := ctx.String("method")
			if method != "store" && method != "deflate" {
				return fmt.Errorf("%w: unknown method %q", ErrFlagParse, method)
			}
			c := create{
				output: ctx.String("output"),
				store:  method == "store",
				level:  ctx.Int("level"),
				paths:  ctx.Args().Slice(),
			}
			return c.Run()
		},
	}
}

type create struct {
	output string
	store  bool
	level  int
	paths  []string
}

func (c *create) Run() (err error) {
	out := os.Stdout
	if c.output != "" {
		out, err = os.Create(c.output)
		if err != nil {
			return fmt.Errorf("%w: opening target file: %w", ErrZipflow, err)
		}
		defer func() {
			clsErr := out.Close()
			if err == nil && clsErr != nil {
				err = fmt.Errorf("%w: closing target file: %w", ErrZipflow, clsErr)
			}
		}()
	}

	s := zipflow.NewStreamer(out, zipflow.WithCompressionLevel(c.level))
	for _, path := range c.paths {
		if err := c.addPath(s, path); err != nil {
			return err
		}
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("%w: finishing archive: %w", ErrZipflow, err)
	}
	return nil
}

// addPath adds the file at path, or the whole tree if path is a directory.
// Entry names are relative to the path's parent, with forward slashes.
func (c *create) addPath(s *zipflow.Streamer, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: %w", ErrZipflow, err)
		}
		name, err := entryName(root, path)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrZipflow, err)
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("%w: stat %q: %w", ErrZipflow, path, err)
		}

		switch {
		case d.IsDir():
			if err := s.AddEmptyDirectory(name, zipflow.EntryModTime(info.ModTime())); err != nil {
				return fmt.Errorf("%w: adding %q: %w", ErrZipflow, name, err)
			}
			return nil
		case !info.Mode().IsRegular():
			// sockets, devices and symlinks are skipped
			return nil
		}

		return c.addFile(s, path, name, info)
	})
}

func (c *create) addFile(s *zipflow.Streamer, path, name string, info fs.FileInfo) (err error) {
	from, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: opening file: %w", ErrZipflow, err)
	}
	defer from.Close()

	var body *zipflow.OpenFile
	if c.store {
		body, err = s.CreateStored(name, zipflow.EntryModTime(info.ModTime()))
	} else {
		body, err = s.CreateDeflated(name, zipflow.EntryModTime(info.ModTime()))
	}
	if err != nil {
		return fmt.Errorf("%w: adding %q: %w", ErrZipflow, name, err)
	}
	defer func() {
		clsErr := body.Close()
		if err == nil && clsErr != nil {
			err = fmt.Errorf("%w: finishing %q: %w", ErrZipflow, name, clsErr)
		}
	}()

	if _, err := io.Copy(body, from); err != nil {
		return fmt.Errorf("%w: writing %q: %w", ErrZipflow, name, err)
	}
	return nil
}

// entryName maps a walked path to an archive entry name: the path relative
// to the root's parent, with forward slashes, so an archived tree contains
// the root directory itself.
func entryName(root, path string) (string, error) {
	rel, err := filepath.Rel(filepath.Dir(root), path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
