package repourl

import (
	"errors"
	"testing"
)

func TestCanonicalizeEquivalentForms(t *testing.T) {
	forms := []string{
		"https://github.com/eadungn/taohe",
		"https://github.com/eadungn/taohe.git",
		"https://github.com/eadungn/taohe/",
		"http://www.github.com/eadungn/taohe",
		"git@github.com:eadungn/taohe.git",
		"git@github.com:eadungn/taohe",
		"ssh://git@github.com/eadungn/taohe.git",
		"ssh://git@github.com:22/eadungn/taohe.git",
		"git+https://github.com/eadungn/taohe.git",
		"git://github.com/eadungn/taohe.git",
		"github.com/eadungn/taohe",
		"https://github.com/EadungN/Taohe",
		"  https://github.com/eadungn/taohe  ",
	}

	want, err := Canonicalize(forms[0])
	if err != nil {
		t.Fatalf("Canonicalize(%q) failed: %v", forms[0], err)
	}
	if want != "github/eadungn/taohe" {
		t.Errorf("key = %q, want %q", want, "github/eadungn/taohe")
	}

	for _, form := range forms[1:] {
		t.Run(form, func(t *testing.T) {
			got, err := Canonicalize(form)
			if err != nil {
				t.Fatalf("Canonicalize failed: %v", err)
			}
			if got != want {
				t.Errorf("key = %q, want %q", got, want)
			}
		})
	}
}

func TestCanonicalizeDistinguishesRepos(t *testing.T) {
	pairs := [][2]string{
		{"https://github.com/a/repo", "https://github.com/b/repo"},
		{"https://github.com/a/repo", "https://github.com/a/other"},
		{"https://github.com/a/repo", "https://gitlab.com/a/repo"},
		{"https://git.example.com/a/repo", "https://git.example.org/a/repo"},
	}
	for _, pair := range pairs {
		k1, err := Canonicalize(pair[0])
		if err != nil {
			t.Fatalf("Canonicalize(%q) failed: %v", pair[0], err)
		}
		k2, err := Canonicalize(pair[1])
		if err != nil {
			t.Fatalf("Canonicalize(%q) failed: %v", pair[1], err)
		}
		if k1 == k2 {
			t.Errorf("%q and %q share key %q", pair[0], pair[1], k1)
		}
	}
}

func TestCanonicalizeGenericHost(t *testing.T) {
	a, err := Canonicalize("git@git.example.com:group/sub/repo.git")
	if err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}
	b, err := Canonicalize("https://git.example.com/group/sub/repo")
	if err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}
	if a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
}

func TestParse(t *testing.T) {
	repo, err := Parse("git@GitHub.com:Owner/Repo.git")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if repo.Host != "github.com" || repo.Owner != "owner" || repo.Name != "repo" {
		t.Errorf("Parse = %+v", repo)
	}
	if got := repo.HTTPS(); got != "https://github.com/owner/repo" {
		t.Errorf("HTTPS() = %q", got)
	}
	if got := repo.PURL(); got != "pkg:github/owner/repo" {
		t.Errorf("PURL() = %q", got)
	}
}

func TestCanonicalizeInvalid(t *testing.T) {
	for _, raw := range []string{
		"",
		"repo_url",
		"https://github.com/onlyowner",
		"ftp://github.com/a/b",
		"https:///a/b",
		"https://github.com/a//b",
	} {
		t.Run(raw, func(t *testing.T) {
			if _, err := Canonicalize(raw); !errors.Is(err, ErrInvalid) {
				t.Errorf("Canonicalize(%q) = %v, want ErrInvalid", raw, err)
			}
		})
	}
}
