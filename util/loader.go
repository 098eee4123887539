// Package util - Photo directory listing.
package util

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-faces/images"
)

// frameNumber extracts the trailing number of a base name without extension.
func frameNumber(path string) int {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	i := len(name)
	for i > 0 && unicode.IsDigit(rune(name[i-1])) {
		i--
	}
	if i == len(name) {
		return -1
	}
	n, err := strconv.Atoi(name[i:])
	if err != nil {
		return -1
	}
	return n
}

// sortPaths orders numbered files of one directory by number, everything else
// by path.
func sortPaths(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		a, b := paths[i], paths[j]
		if filepath.Dir(a) == filepath.Dir(b) {
			fa, fb := frameNumber(a), frameNumber(b)
			if fa >= 0 && fb >= 0 && fa != fb {
				return fa < fb
			}
		}
		return a < b
	})
}

// ListImageFiles returns the paths of every supported image under dir.
//
// Arguments:
// - dir: Directory path containing image files.
// - recursive: Whether to descend into subdirectories.
//
// Returns:
// - []string: Image paths, numbered files in numeric order. Never nil on success.
// - error: Error if the directory cannot be read.
func ListImageFiles(dir string, recursive bool) ([]string, error) {
	paths := []string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if images.IsSupported(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", dir)
	}

	sortPaths(paths)
	return paths, nil
}
