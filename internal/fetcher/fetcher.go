// Package fetcher resolves a repository URL (and optionally a revision and
// subdirectory) to the metadata the registry stores for a package version.
package fetcher

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/git-pkgs/vers"
	"github.com/github/go-spdx/v2/spdxexp"
)

var (
	ErrNotFound     = errors.New("repository or revision not found")
	ErrRateLimited  = errors.New("rate limited by upstream")
	ErrUpstreamDown = errors.New("upstream unavailable")
	ErrMalformed    = errors.New("malformed upstream response")
)

// Metadata is what a fetcher knows about one revision of a repository.
type Metadata struct {
	Name        string
	Version     string
	Revision    string
	Readme      string
	Description string
	License     string // SPDX identifier, empty when unknown
	Size        int64
	Files       int64
	URL         string // canonical https URL of the repository
}

// Options narrows a fetch to a revision and a package subdirectory.
// An empty Rev means the default branch head.
type Options struct {
	Rev    string
	Subdir string
}

// Fetcher resolves repository metadata.
type Fetcher interface {
	Fetch(ctx context.Context, repoURL string, opts Options) (*Metadata, error)
}

// versionLabel names a revision after its highest tag, falling back to a
// pseudo-version built from the commit hash.
func versionLabel(tags []string, sha string) string {
	if tag := highestTag(tags); tag != "" {
		return tag
	}
	short := sha
	if len(short) > 7 {
		short = short[:7]
	}
	return "0.0.0-" + short
}

func highestTag(tags []string) string {
	best := ""
	for _, tag := range tags {
		if best == "" || vers.Compare(strings.TrimPrefix(tag, "v"), strings.TrimPrefix(best, "v")) > 0 {
			best = tag
		}
	}
	return best
}

// normalizeLicense keeps id only if it is a valid SPDX license identifier.
func normalizeLicense(id string) string {
	id = strings.TrimSpace(id)
	switch id {
	case "", "NOASSERTION", "NONE", "other":
		return ""
	}
	if valid, _ := spdxexp.ValidateLicenses([]string{id}); !valid {
		return ""
	}
	return id
}

// packageName prefers the subdirectory's base name, which is how monorepo
// packages are told apart.
func packageName(repoName, subdir string) string {
	subdir = strings.Trim(subdir, "/")
	if subdir == "" {
		return repoName
	}
	return path.Base(subdir)
}
