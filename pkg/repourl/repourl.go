// Package repourl normalizes the many spellings of a source repository URL
// (https, ssh, scp-style, git+ prefixes, .git suffixes) to one canonical key.
package repourl

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/git-pkgs/purl"
)

// ErrInvalid is returned for URLs that do not name an owner/repo pair.
var ErrInvalid = errors.New("invalid repository url")

// purl types for hosts the package-url spec knows about. Everything else is
// keyed as generic with the host folded into the namespace.
var hostTypes = map[string]string{
	"github.com":    "github",
	"bitbucket.org": "bitbucket",
	"gitlab.com":    "gitlab",
}

// Repository is a parsed repository location.
type Repository struct {
	Host  string // lowercased, without port or www.
	Owner string // may contain slashes for nested groups
	Name  string
}

// Parse extracts host, owner and repository name from raw.
func Parse(raw string) (*Repository, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "git+")
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalid)
	}

	var host, path string
	if !strings.Contains(s, "://") {
		if at, colon := strings.Index(s, "@"), strings.Index(s, ":"); at >= 0 && colon > at {
			// scp-like: git@host:owner/repo.git
			host, path = s[at+1:colon], s[colon+1:]
		} else {
			s = "https://" + s
		}
	}
	if host == "" {
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		switch u.Scheme {
		case "http", "https", "ssh", "git":
		default:
			return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalid, u.Scheme)
		}
		host, path = u.Hostname(), u.Path
	}

	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	path = strings.Trim(path, "/")
	path = strings.TrimSuffix(path, ".git")
	path = strings.TrimSuffix(path, "/")

	segments := strings.Split(path, "/")
	if host == "" || len(segments) < 2 {
		return nil, fmt.Errorf("%w: %q has no owner/repo", ErrInvalid, raw)
	}
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("%w: %q has an empty path segment", ErrInvalid, raw)
		}
	}

	return &Repository{
		Host:  host,
		Owner: strings.ToLower(strings.Join(segments[:len(segments)-1], "/")),
		Name:  strings.ToLower(segments[len(segments)-1]),
	}, nil
}

// PURL renders the repository as a package URL.
func (r *Repository) PURL() string {
	if typ, ok := hostTypes[r.Host]; ok {
		return fmt.Sprintf("pkg:%s/%s/%s", typ, r.Owner, r.Name)
	}
	return fmt.Sprintf("pkg:generic/%s/%s/%s", r.Host, r.Owner, r.Name)
}

// Key returns the canonical matching key, e.g. "github/owner/repo".
func (r *Repository) Key() (string, error) {
	p, err := purl.Parse(r.PURL())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return p.Type + "/" + strings.ToLower(p.FullName()), nil
}

// HTTPS returns the https form of the repository URL.
func (r *Repository) HTTPS() string {
	return "https://" + r.Host + "/" + r.Owner + "/" + r.Name
}

// Canonicalize maps any supported spelling of a repository URL to its key.
func Canonicalize(raw string) (string, error) {
	repo, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return repo.Key()
}
