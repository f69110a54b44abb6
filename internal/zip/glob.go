package zip

import "github.com/bmatcuk/doublestar/v4"

// Glob returns every entry name matching pattern, a doublestar pattern
// (SPEC_FULL.md §3's supplemented glob surface; the source implementation
// has no equivalent). Patterns ending in "/" match only directories.
// Results are returned in the archive's sorted index order.
//
// Unlike the source repo's path.glob, which walks a lazily-expanding
// directory tree with a worker pool (path.go's deepWalk/glob), Archive
// already holds every entry name in one sorted slice, so a single linear
// doublestar.Match pass over it is the natural fit here.
func (a *Archive) Glob(pattern string) ([]string, error) {
	dironly := false
	if n := len(pattern); n > 0 && pattern[n-1] == '/' {
		pattern = pattern[:n-1]
		dironly = true
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, ErrCorrupted
	}

	var out []string
	for _, e := range a.entries {
		name := e.name
		isDir := e.IsDir()
		if isDir {
			name = name[:len(name)-1]
		}
		if dironly && !isDir {
			continue
		}
		ok, err := doublestar.Match(pattern, name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e.name)
		}
	}
	return out, nil
}
