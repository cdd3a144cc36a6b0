package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/ippclub/dora-registry/pkg/repourl"
	circuit "github.com/rubyist/circuitbreaker"
	"go.uber.org/zap"
)

// GitHubFetcher reads repository metadata from the GitHub REST API.
type GitHubFetcher struct {
	baseURL    string
	token      string
	userAgent  string
	client     *http.Client
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger

	breakers map[string]*circuit.Breaker
	mu       sync.RWMutex
}

// GitHubOption configures a GitHubFetcher.
type GitHubOption func(*GitHubFetcher)

// WithBaseURL points the fetcher at a GitHub Enterprise or test API.
func WithBaseURL(u string) GitHubOption {
	return func(f *GitHubFetcher) {
		f.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithToken authenticates requests with a personal access token.
func WithToken(token string) GitHubOption {
	return func(f *GitHubFetcher) {
		f.token = token
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) GitHubOption {
	return func(f *GitHubFetcher) {
		f.userAgent = ua
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) GitHubOption {
	return func(f *GitHubFetcher) {
		f.client = c
	}
}

// WithTimeout bounds each HTTP request. Ignored when WithHTTPClient is given.
func WithTimeout(d time.Duration) GitHubOption {
	return func(f *GitHubFetcher) {
		f.timeout = d
	}
}

// WithMaxRetries sets the maximum retry attempts per request.
func WithMaxRetries(n int) GitHubOption {
	return func(f *GitHubFetcher) {
		f.maxRetries = n
	}
}

// WithBaseDelay sets the base delay for exponential backoff between retries.
func WithBaseDelay(d time.Duration) GitHubOption {
	return func(f *GitHubFetcher) {
		f.baseDelay = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) GitHubOption {
	return func(f *GitHubFetcher) {
		f.logger = l
	}
}

// NewGitHubFetcher creates a GitHubFetcher with the given options.
func NewGitHubFetcher(opts ...GitHubOption) *GitHubFetcher {
	f := &GitHubFetcher{
		baseURL:    "https://api.github.com",
		userAgent:  "dora-registry/1.0",
		timeout:    30 * time.Second,
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
		logger:     zap.NewNop(),
		breakers:   make(map[string]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = newHTTPClient(f.timeout)
	}
	return f
}

type repoResponse struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Description   string `json:"description"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
	Size          int64  `json:"size"` // kilobytes
	License       *struct {
		SPDXID string `json:"spdx_id"`
	} `json:"license"`
}

type commitResponse struct {
	SHA string `json:"sha"`
}

type tagResponse struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// Fetch implements Fetcher.
func (f *GitHubFetcher) Fetch(ctx context.Context, repoURL string, opts Options) (*Metadata, error) {
	repo, err := repourl.Parse(repoURL)
	if err != nil {
		return nil, err
	}
	prefix := "/repos/" + url.PathEscape(repo.Owner) + "/" + url.PathEscape(repo.Name)

	var info repoResponse
	if err := f.getJSON(ctx, prefix, &info); err != nil {
		return nil, fmt.Errorf("failed to get repository %s/%s: %w", repo.Owner, repo.Name, err)
	}
	if info.Name == "" {
		return nil, fmt.Errorf("repository %s/%s: %w: missing name", repo.Owner, repo.Name, ErrMalformed)
	}

	ref := opts.Rev
	if ref == "" {
		ref = info.DefaultBranch
	}
	var commit commitResponse
	if err := f.getJSON(ctx, prefix+"/commits/"+url.PathEscape(ref), &commit); err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", ref, err)
	}
	if commit.SHA == "" {
		return nil, fmt.Errorf("revision %q: %w: missing sha", ref, ErrMalformed)
	}

	commitTags, err := f.tagsAt(ctx, prefix, commit.SHA)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}

	readmePath := prefix + "/readme"
	if dir := strings.Trim(opts.Subdir, "/"); dir != "" {
		readmePath += "/" + dir
	}
	readme, err := f.getRaw(ctx, readmePath+"?ref="+url.QueryEscape(commit.SHA))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get readme: %w", err)
	}

	meta := &Metadata{
		Name:        packageName(info.Name, opts.Subdir),
		Version:     versionLabel(commitTags, commit.SHA),
		Revision:    commit.SHA,
		Readme:      readme,
		Description: info.Description,
		Size:        info.Size * 1024,
		URL:         info.HTMLURL,
	}
	if info.License != nil {
		meta.License = normalizeLicense(info.License.SPDXID)
	}
	if meta.URL == "" {
		meta.URL = repo.HTTPS()
	}

	f.logger.Debug("fetched repository metadata",
		zap.String("repo", info.FullName),
		zap.String("rev", meta.Revision),
		zap.String("version", meta.Version),
	)
	return meta, nil
}

const (
	tagsPerPage = 100
	maxTagPages = 50
)

// tagsAt walks the tag listing page by page and returns the tags pointing
// at sha. The listing stops at the first short page.
func (f *GitHubFetcher) tagsAt(ctx context.Context, prefix, sha string) ([]string, error) {
	var names []string
	for page := 1; page <= maxTagPages; page++ {
		var tags []tagResponse
		path := fmt.Sprintf("%s/tags?per_page=%d&page=%d", prefix, tagsPerPage, page)
		if err := f.getJSON(ctx, path, &tags); err != nil {
			return nil, err
		}
		for _, tag := range tags {
			if tag.Commit.SHA == sha {
				names = append(names, tag.Name)
			}
		}
		if len(tags) < tagsPerPage {
			return names, nil
		}
	}
	f.logger.Warn("tag listing truncated",
		zap.String("repo", prefix),
		zap.Int("pages", maxTagPages),
	)
	return names, nil
}

func (f *GitHubFetcher) getJSON(ctx context.Context, path string, v any) error {
	body, err := f.get(ctx, path, "application/vnd.github+json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func (f *GitHubFetcher) getRaw(ctx context.Context, path string) (string, error) {
	body, err := f.get(ctx, path, "application/vnd.github.raw")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// get performs a GET through the host's circuit breaker, retrying rate
// limits and server errors with exponential backoff.
func (f *GitHubFetcher) get(ctx context.Context, path, accept string) ([]byte, error) {
	reqURL := f.baseURL + path
	breaker := f.getBreaker(extractHost(reqURL))
	if !breaker.Ready() {
		return nil, fmt.Errorf("circuit breaker open for %s: %w", extractHost(reqURL), ErrUpstreamDown)
	}

	var body []byte
	var result error
	err := breaker.Call(func() error {
		body, result = f.getWithRetry(ctx, reqURL, accept)
		// A missing repository says nothing about upstream health.
		if errors.Is(result, ErrNotFound) {
			return nil
		}
		return result
	}, 0)
	if err != nil {
		return nil, err
	}
	return body, result
}

func (f *GitHubFetcher) getWithRetry(ctx context.Context, reqURL, accept string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff with 10% jitter
			delay := f.baseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			jitter := time.Duration(float64(delay) * (rand.Float64() * 0.1))
			delay += jitter

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := f.doGet(ctx, reqURL, accept)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamDown) {
			f.logger.Warn("retrying github request",
				zap.String("url", reqURL),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}
		return nil, err
	}

	return nil, lastErr
}

func (f *GitHubFetcher) doGet(ctx context.Context, reqURL, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", reqURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", reqURL, err)
		}
		return body, nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, ErrUpstreamDown
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// getBreaker returns or creates the circuit breaker for host.
func (f *GitHubFetcher) getBreaker(host string) *circuit.Breaker {
	f.mu.RLock()
	breaker, exists := f.breakers[host]
	f.mu.RUnlock()
	if exists {
		return breaker
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if breaker, exists := f.breakers[host]; exists {
		return breaker
	}

	// Trips after 5 consecutive failures
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	breaker = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	f.breakers[host] = breaker
	return breaker
}

// BreakerState reports open/closed per upstream host.
func (f *GitHubFetcher) BreakerState() map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	states := make(map[string]string, len(f.breakers))
	for host, breaker := range f.breakers {
		if breaker.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}
