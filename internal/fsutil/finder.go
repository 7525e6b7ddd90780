// Package fsutil provides file system utility functions.
package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
)

// ErrEmptyExtension is returned when no extension is given to match against.
var ErrEmptyExtension = errors.New("extension must not be empty")

// FindFilesByExtension recursively searches rootPath for regular files whose
// extension equals ext (including the leading dot). The result is sorted so
// callers see the same order on every platform.
func FindFilesByExtension(rootPath string, ext string) ([]string, error) {
	if ext == "" {
		return nil, ErrEmptyExtension
	}

	var files []string
	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && filepath.Ext(d.Name()) == ext {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}
