package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

var (
	// ErrRevisionNotFound is returned when a revision does not resolve to a commit.
	ErrRevisionNotFound = errors.New("revision not found")
	// ErrPathNotFound is returned when a subdirectory is absent from the commit tree.
	ErrPathNotFound = errors.New("path not found")
)

// ExcludePaths contains paths that are not counted as package content
var ExcludePaths = []string{
	".git",
	".github",
}

// Repo is a bare local mirror of a remote repository
type Repo struct {
	URL    string
	Path   string
	Logger *zap.Logger
}

// Snapshot describes the content of a repository at one commit
type Snapshot struct {
	Hash   string
	Tags   []string // tags pointing at Hash
	Readme string
	Files  int64
	Size   int64
}

// NewRepo creates a new Repo instance
func NewRepo(url, path string, logger *zap.Logger) *Repo {
	return &Repo{
		URL:    url,
		Path:   path,
		Logger: logger,
	}
}

// Sync clones the mirror or fetches every branch and tag into it
func (r *Repo) Sync(ctx context.Context) error {
	repo, cloned, err := r.openOrClone(ctx)
	if err != nil {
		return fmt.Errorf("failed to open/clone repo: %w", err)
	}
	if cloned {
		return nil
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		RefSpecs: []config.RefSpec{
			"+refs/heads/*:refs/heads/*",
			"+refs/tags/*:refs/tags/*",
		},
		Tags:  git.AllTags,
		Force: true,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("failed to fetch: %w", err)
	}
	return nil
}

// Snapshot reads the commit that rev resolves to (HEAD when empty) and
// summarizes the subdir tree within it
func (r *Repo) Snapshot(rev, subdir string) (*Snapshot, error) {
	repo, err := git.PlainOpen(r.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open repo: %w", err)
	}
	return snapshot(repo, rev, subdir)
}

func snapshot(repo *git.Repository, rev, subdir string) (*Snapshot, error) {
	hash, err := resolve(repo, rev)
	if err != nil {
		return nil, err
	}

	commit, err := repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}
	if dir := strings.Trim(subdir, "/"); dir != "" {
		tree, err = tree.Tree(dir)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, dir)
		}
	}

	snap := &Snapshot{Hash: hash.String()}

	err = tree.Files().ForEach(func(f *object.File) error {
		if shouldExclude(f.Name) {
			return nil
		}
		snap.Files++
		snap.Size += f.Size
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk tree: %w", err)
	}

	for _, entry := range tree.Entries {
		if !entry.Mode.IsFile() || !isReadme(entry.Name) {
			continue
		}
		f, err := tree.TreeEntryFile(&entry)
		if err != nil {
			return nil, fmt.Errorf("failed to open readme: %w", err)
		}
		if snap.Readme, err = f.Contents(); err != nil {
			return nil, fmt.Errorf("failed to read readme: %w", err)
		}
		break
	}

	snap.Tags, err = tagsAt(repo, hash)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func resolve(repo *git.Repository, rev string) (plumbing.Hash, error) {
	if rev == "" {
		ref, err := repo.Head()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to get HEAD: %w", err)
		}
		return ref.Hash(), nil
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrRevisionNotFound, rev)
	}
	return *hash, nil
}

// tagsAt returns the lightweight and annotated tags that point at hash
func tagsAt(repo *git.Repository, hash plumbing.Hash) ([]string, error) {
	refs, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("failed to get tags: %w", err)
	}

	var tags []string
	err = refs.ForEach(func(t *plumbing.Reference) error {
		if t.Hash() == hash {
			tags = append(tags, t.Name().Short())
			return nil
		}
		obj, err := repo.TagObject(t.Hash())
		if err != nil {
			return nil // Skip if not a tag object
		}
		if obj.Target == hash {
			tags = append(tags, t.Name().Short())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate tags: %w", err)
	}
	return tags, nil
}

// openOrClone opens the mirror or clones it if it doesn't exist yet
func (r *Repo) openOrClone(ctx context.Context) (*git.Repository, bool, error) {
	repo, err := git.PlainOpen(r.Path)
	if err == nil {
		return repo, false, nil
	}
	if err != git.ErrRepositoryNotExists {
		return nil, false, err
	}

	r.Logger.Info("cloning repository", zap.String("url", r.URL), zap.String("path", r.Path))

	if err := os.MkdirAll(r.Path, 0755); err != nil {
		return nil, false, fmt.Errorf("failed to create directory: %w", err)
	}

	repo, err = git.PlainCloneContext(ctx, r.Path, true, &git.CloneOptions{
		URL:      r.URL,
		Tags:     git.AllTags,
		Progress: io.Discard,
	})
	if err != nil {
		// Leave no half-written mirror behind for the next attempt.
		os.RemoveAll(r.Path)
		return nil, false, fmt.Errorf("failed to clone: %w", err)
	}
	return repo, true, nil
}

// shouldExclude checks if a path is outside the package content
func shouldExclude(p string) bool {
	first := p
	if i := strings.IndexByte(p, '/'); i >= 0 {
		first = p[:i]
	}
	for _, exclude := range ExcludePaths {
		if first == exclude {
			return true
		}
	}
	return false
}

func isReadme(name string) bool {
	base := strings.ToLower(path.Base(name))
	return base == "readme" || strings.HasPrefix(base, "readme.")
}
