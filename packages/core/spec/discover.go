package spec

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultPattern selects spec documents when walking a directory
	DefaultPattern = "**/*.{yaml,yml,json}"
	// MaxWorkers caps parallel loading
	MaxWorkers = 32
)

// schemaPattern excludes schema documents that sit next to the suites referencing them.
const schemaPattern = "**/*.schema.json"

// Discover expands files and directories into a sorted, de-duplicated file list.
// Explicit files are always kept; directories are walked and matched against pattern.
// Hidden files and directories are skipped.
func Discover(paths []string, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}

	found := make(map[string]bool)
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", root, err)
		}

		if !info.IsDir() {
			found[filepath.Clean(root)] = true
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != root && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if matchesPattern(path, root, pattern) && !matchesPattern(path, root, schemaPattern) {
				found[path] = true
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	files := make([]string, 0, len(found))
	for f := range found {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

func matchesPattern(path, root, pattern string) bool {
	relPath, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	matched, err := doublestar.Match(pattern, filepath.ToSlash(relPath))
	return err == nil && matched
}

// LoadAll loads files in parallel. Results keep the input order; the first error wins.
func (l *Loader) LoadAll(ctx context.Context, paths []string, workers int) ([]*Suite, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > MaxWorkers {
		workers = MaxWorkers
	}

	sem := semaphore.NewWeighted(int64(workers))
	g, gCtx := errgroup.WithContext(ctx)
	suites := make([]*Suite, len(paths))

	for i, path := range paths {
		g.Go(func() error {
			if err := sem.Acquire(gCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			suite, err := l.LoadFile(path)
			if err != nil {
				return err
			}
			suites[i] = suite
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return suites, nil
}
