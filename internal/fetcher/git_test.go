package fetcher

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap/zaptest"
)

// newOrigin creates a local repository named taohe with one tagged commit.
func newOrigin(t *testing.T) (dir, sha string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary required for local clones")
	}

	dir = filepath.Join(t.TempDir(), "taohe")
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	for name, content := range map[string]string{
		"README.md":         "# taohe\n",
		"init.lua":          "return {}\n",
		"packages/ui/a.lua": "ui\n",
	} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := wt.Add(name); err != nil {
			t.Fatal(err)
		}
	}
	hash, err := wt.Commit("initial", &git.CommitOptions{Author: &object.Signature{
		Name:  "Charles Diya",
		Email: "charles@example.com",
		When:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.CreateTag("v0.3.0", hash, nil); err != nil {
		t.Fatal(err)
	}
	return dir, hash.String()
}

func TestGitFetcher(t *testing.T) {
	origin, sha := newOrigin(t)
	base := t.TempDir()
	f := NewGitFetcher(base, zaptest.NewLogger(t))

	meta, err := f.Fetch(context.Background(), origin, Options{})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if meta.Name != "taohe" {
		t.Errorf("Name = %q, want taohe", meta.Name)
	}
	if meta.Revision != sha {
		t.Errorf("Revision = %q, want %q", meta.Revision, sha)
	}
	if meta.Version != "v0.3.0" {
		t.Errorf("Version = %q, want v0.3.0", meta.Version)
	}
	if meta.Files != 3 || meta.Readme != "# taohe\n" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.URL != origin {
		t.Errorf("URL = %q, want %q", meta.URL, origin)
	}

	sub, err := f.Fetch(context.Background(), origin, Options{Rev: "v0.3.0", Subdir: "packages/ui"})
	if err != nil {
		t.Fatalf("Fetch of subdir failed: %v", err)
	}
	if sub.Name != "ui" || sub.Files != 1 || sub.Revision != sha {
		t.Errorf("subdir meta = %+v", sub)
	}

	entries, err := os.ReadDir(filepath.Join(base, "repos"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("mirrors = %d, want 1", len(entries))
	}
}

func TestGitFetcherNotFound(t *testing.T) {
	origin, _ := newOrigin(t)
	f := NewGitFetcher(t.TempDir(), zaptest.NewLogger(t))

	if _, err := f.Fetch(context.Background(), origin, Options{Rev: "v9.9.9"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := f.Fetch(context.Background(), origin, Options{Subdir: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	missing := filepath.Join(t.TempDir(), "missing")
	if _, err := f.Fetch(context.Background(), missing, Options{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGitFetcherConcurrent(t *testing.T) {
	origin, sha := newOrigin(t)
	f := NewGitFetcher(t.TempDir(), zaptest.NewLogger(t))

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			meta, err := f.Fetch(context.Background(), origin, Options{})
			if err == nil && meta.Revision != sha {
				err = errors.New("unexpected revision " + meta.Revision)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
}

func TestMirrorName(t *testing.T) {
	tests := map[string]string{
		"https://github.com/eadungn/taohe": "taohe",
		"git@github.com:eadungn/Taohe.git": "taohe",
		"/srv/git/dora.git":                "dora",
		"/srv/git/dora/":                   "dora",
	}
	for in, want := range tests {
		if got := mirrorName(in); got != want {
			t.Errorf("mirrorName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGitFetcherCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := NewGitFetcher(t.TempDir(), zaptest.NewLogger(t))
	if _, err := f.Fetch(ctx, "https://github.com/eadungn/taohe", Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
