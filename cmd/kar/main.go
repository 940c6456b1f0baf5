// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/mmap"

	"github.com/devblok/koru-present/utility/kar"
)

func init() {
	if u, err := user.Current(); err == nil && u.Name != "" {
		currentUserName = u.Name
	}
}

var (
	currentUserName = "unknown"
	author          = flag.String("author", "", "Set the author of the package when compressing")
	version         = flag.Int64("version", 1, "Archive version number to create it with")
	list            = flag.String("l", "", "List the files of the given archive")
	extract         = flag.String("e", "", "Extract the given archive")
	compress        = flag.String("c", "", "Compress the given file/folder")
	dstFile         = flag.String("f", "out.kar", "Destination file when compressing")
	dstDir          = flag.String("o", ".", "Destination directory when extracting")
	silent          = flag.Bool("s", false, "Silent")
)

func main() {
	flag.Parse()
	if *silent {
		log.SetLevel(log.WarnLevel)
	}

	ops := 0
	for _, op := range []string{*list, *extract, *compress} {
		if op != "" {
			ops++
		}
	}
	if ops > 1 {
		log.Fatal("only one operation at a time")
	}

	var err error
	switch {
	case *list != "":
		err = withArchive(*list, func(a *kar.Archive) error {
			return listArchive(os.Stdout, a)
		})
	case *extract != "":
		err = withArchive(*extract, func(a *kar.Archive) error {
			return extractArchive(a, *dstDir)
		})
	case *compress != "":
		name := *author
		if name == "" {
			name = currentUserName
		}
		err = compressFiles(*compress, *dstFile, kar.Header{
			Author:      name,
			DateCreated: time.Now().Unix(),
			Version:     *version,
		})
	default:
		flag.PrintDefaults()
	}
	if err != nil {
		log.WithError(err).Fatal("kar")
	}
}

func withArchive(path string, fn func(*kar.Archive) error) error {
	r, err := mmap.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	a, err := kar.Open(r)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return fn(a)
}

func listArchive(w io.Writer, a *kar.Archive) error {
	header := a.Header()
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "# author %s, version %d, created %s\n", header.Author, header.Version,
		time.Unix(header.DateCreated, 0).UTC().Format(time.RFC3339))
	for _, entry := range header.Index {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", entry.Name, entry.Size, entry.CompressedSize)
	}
	return tw.Flush()
}

// extractPath joins name onto dir, refusing names that climb out of it.
func extractPath(dir, name string) (string, error) {
	path := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes %s", name, dir)
	}
	return path, nil
}

func extractArchive(a *kar.Archive, dir string) error {
	for _, entry := range a.Header().Index {
		path, err := extractPath(dir, entry.Name)
		if err != nil {
			return err
		}
		data, err := a.ReadAll(entry.Name)
		if err != nil {
			return fmt.Errorf("%s: %w", entry.Name, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"file":  path,
			"bytes": len(data),
		}).Info("extracted")
	}
	return nil
}

func compressFiles(src, dst string, header kar.Header) error {
	if _, err := os.Stat(dst); err == nil {
		return errors.New("destination file exists, will not overwrite")
	}

	var filesToCompress []string
	if err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		filesToCompress = append(filesToCompress, path)
		return nil
	}); err != nil {
		return err
	}

	karBuilder, err := kar.NewBuilder(header)
	if err != nil {
		return err
	}
	defer karBuilder.Close()

	for _, ftc := range filesToCompress {
		name, err := filepath.Rel(src, ftc)
		if err != nil || name == "." {
			name = filepath.Base(ftc)
		}
		f, err := os.Open(ftc)
		if err != nil {
			return err
		}
		err = karBuilder.Add(filepath.ToSlash(name), f)
		f.Close()
		if err != nil {
			return err
		}
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := karBuilder.WriteTo(out); err != nil {
		out.Close()
		return err
	}
	log.WithFields(log.Fields{
		"file":  dst,
		"files": len(filesToCompress),
	}).Info("archive written")
	return out.Close()
}
