package source

import (
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"

	"golang.org/x/mod/semver"

	"github.com/xkilldash9x/emb3d-mapper/internal/pipelineerr"
)

var versionInName = regexp.MustCompile(`v?(\d+\.\d+(?:\.\d+)?)`)

type candidate struct {
	name    string
	version string // canonical semver, or "" when the name carries none
}

// versionOf extracts the first semantic version embedded in a file name.
func versionOf(name string) string {
	m := versionInName.FindStringSubmatch(path.Base(name))
	if m == nil {
		return ""
	}
	v := "v" + m[1]
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}

// Discover returns the newest file in fsys matching glob. Files are ranked by
// the semantic version embedded in their name; names without a version rank
// below every versioned name and are ordered lexically among themselves.
func Discover(fsys fs.FS, glob string) (string, error) {
	matches, err := fs.Glob(fsys, glob)
	if err != nil {
		return "", &pipelineerr.ConfigurationError{Field: "source.glob", Reason: fmt.Sprintf("invalid pattern %q: %v", glob, err)}
	}

	candidates := make([]candidate, 0, len(matches))
	for _, name := range matches {
		info, err := fs.Stat(fsys, name)
		if err != nil || info.IsDir() {
			continue
		}
		candidates = append(candidates, candidate{name: name, version: versionOf(name)})
	}
	if len(candidates) == 0 {
		return "", &pipelineerr.ConfigurationError{Field: "source.glob", Reason: fmt.Sprintf("no file matches %q", glob)}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return less(candidates[i], candidates[j])
	})
	return candidates[len(candidates)-1].name, nil
}

// less orders candidates from oldest to newest.
func less(a, b candidate) bool {
	switch {
	case a.version == "" && b.version != "":
		return true
	case a.version != "" && b.version == "":
		return false
	case a.version != "" && b.version != "":
		if c := semver.Compare(a.version, b.version); c != 0 {
			return c < 0
		}
	}
	return a.name < b.name
}
