package fetcher

import (
	"context"
	"sync"
)

// Call records the arguments of one Stub.Fetch invocation.
type Call struct {
	URL  string
	Opts Options
}

// Stub is a deterministic Fetcher for tests and offline runs. It returns a
// copy of Meta, with Revision replaced by the requested revision if one
// was given, or Err when set.
type Stub struct {
	Meta Metadata
	Err  error

	mu    sync.Mutex
	calls []Call
}

// NewStub returns a Stub answering with meta.
func NewStub(meta Metadata) *Stub {
	return &Stub{Meta: meta}
}

// Fetch implements Fetcher.
func (s *Stub) Fetch(ctx context.Context, repoURL string, opts Options) (*Metadata, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{URL: repoURL, Opts: opts})
	err := s.Err
	meta := s.Meta
	s.mu.Unlock()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}
	if opts.Rev != "" {
		meta.Revision = opts.Rev
	}
	if opts.Subdir != "" {
		meta.Name = packageName(meta.Name, opts.Subdir)
	}
	return &meta, nil
}

// SetErr makes subsequent fetches fail with err (nil restores success).
func (s *Stub) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

// Calls returns the fetches made so far.
func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}
