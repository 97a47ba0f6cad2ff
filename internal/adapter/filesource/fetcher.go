// Package filesource serves file tiers: the newest local file whose name
// matches the configured glob.
package filesource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/couchcryptid/indicator-etl/internal/domain"
)

// ErrNoMatch is returned when no file matches the glob.
var ErrNoMatch = errors.New("no matching file")

// Fetcher reads files under a single directory.
type Fetcher struct {
	dir string
}

// New returns a Fetcher rooted at dir.
func New(dir string) *Fetcher {
	return &Fetcher{dir: dir}
}

// Fetch returns the contents of the most recently modified file in the
// fetcher's directory matching req.Location.
func (f *Fetcher) Fetch(ctx context.Context, req domain.FetchRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := f.latest(req.Location)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return data, nil
}

func (f *Fetcher) latest(pattern string) (string, error) {
	if pattern == "" || filepath.IsAbs(pattern) || filepath.Base(pattern) != pattern {
		return "", fmt.Errorf("invalid file pattern %q", pattern)
	}

	matches, err := filepath.Glob(filepath.Join(f.dir, pattern))
	if err != nil {
		return "", fmt.Errorf("glob %q: %w", pattern, err)
	}

	var (
		best    string
		bestMod int64
	)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		mod := info.ModTime().UnixNano()
		if best == "" || mod > bestMod || (mod == bestMod && m > best) {
			best, bestMod = m, mod
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w for %q in %s", ErrNoMatch, pattern, f.dir)
	}
	return best, nil
}
