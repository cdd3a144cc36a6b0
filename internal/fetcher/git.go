package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ippclub/dora-registry/pkg/git"
	"github.com/ippclub/dora-registry/pkg/repourl"
	"go.uber.org/zap"
)

// GitFetcher keeps bare mirrors of repositories under basePath/repos and
// reads metadata from them directly. It works with any git host.
type GitFetcher struct {
	basePath string
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGitFetcher creates a GitFetcher that stores mirrors under basePath.
func NewGitFetcher(basePath string, logger *zap.Logger) *GitFetcher {
	return &GitFetcher{
		basePath: basePath,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Fetch implements Fetcher.
func (f *GitFetcher) Fetch(ctx context.Context, repoURL string, opts Options) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := f.mirrorPath(repoURL)
	lock := f.lock(dir)
	lock.Lock()
	defer lock.Unlock()

	repo := git.NewRepo(repoURL, dir, f.logger)
	if err := repo.Sync(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	snap, err := repo.Snapshot(opts.Rev, opts.Subdir)
	if err != nil {
		if errors.Is(err, git.ErrRevisionNotFound) || errors.Is(err, git.ErrPathNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return nil, err
	}

	meta := &Metadata{
		Name:     packageName(mirrorName(repoURL), opts.Subdir),
		Version:  versionLabel(snap.Tags, snap.Hash),
		Revision: snap.Hash,
		Readme:   snap.Readme,
		Size:     snap.Size,
		Files:    snap.Files,
		URL:      repoURL,
	}
	if r, err := repourl.Parse(repoURL); err == nil {
		meta.URL = r.HTTPS()
	}

	f.logger.Debug("read repository snapshot",
		zap.String("url", repoURL),
		zap.String("rev", meta.Revision),
		zap.Int64("files", meta.Files),
	)
	return meta, nil
}

// mirrorPath maps a URL to a stable directory name.
func (f *GitFetcher) mirrorPath(repoURL string) string {
	sum := sha256.Sum256([]byte(repoURL))
	return filepath.Join(f.basePath, "repos", hex.EncodeToString(sum[:])[:16])
}

// lock serializes sync and reads of one mirror.
func (f *GitFetcher) lock(dir string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[dir]
	if !ok {
		l = &sync.Mutex{}
		f.locks[dir] = l
	}
	return l
}

// mirrorName is the repository name for URLs repourl understands and the
// last path element otherwise, so local paths work too.
func mirrorName(repoURL string) string {
	if r, err := repourl.Parse(repoURL); err == nil {
		return r.Name
	}
	name := filepath.Base(strings.TrimRight(repoURL, "/"))
	return strings.TrimSuffix(name, ".git")
}
