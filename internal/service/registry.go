package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/git-pkgs/vers"
	"github.com/ippclub/dora-registry/internal/config"
	"github.com/ippclub/dora-registry/internal/fetcher"
	"github.com/ippclub/dora-registry/internal/model"
	"github.com/ippclub/dora-registry/internal/store"
	"github.com/ippclub/dora-registry/pkg/repourl"
	"go.uber.org/zap"
)

// ErrFetchFailed is returned when repository metadata cannot be fetched.
var ErrFetchFailed = errors.New("failed to fetch repository metadata")

// Store is the persistence the registry needs.
type Store interface {
	CreatePackage(ctx context.Context, pkg *model.Package) error
	GetPackage(ctx context.Context, id int64) (*model.Package, error)
	GetPackageByName(ctx context.Context, name string) (*model.Package, error)
	ListPackagesByRepositoryKey(ctx context.Context, key string) ([]*model.Package, error)
	CountPackages(ctx context.Context) (int64, error)
	IncrementPackageDownloads(ctx context.Context, id int64) (int64, error)

	CreateVersion(ctx context.Context, version *model.PackageVersion) error
	GetVersion(ctx context.Context, packageID int64, rev string) (*model.PackageVersion, error)
	ListVersions(ctx context.Context, packageID int64, sort model.VersionSort) ([]*model.PackageVersion, error)
	CountVersions(ctx context.Context) (int64, error)
	IncrementVersionDownloads(ctx context.Context, id int64) (int64, error)

	SearchPackages(ctx context.Context, terms []string, opts store.ListOptions) ([]*model.Package, int64, error)
	ListPackages(ctx context.Context, opts store.ListOptions) ([]*model.Package, int64, error)
	AutocompletePackages(ctx context.Context, prefix string, limit int) ([]*model.Package, error)
}

// DefaultAutocompleteLimit is the number of suggestions returned when the
// caller does not ask for a specific amount.
const DefaultAutocompleteLimit = 10

// Registry ingests packages, attributes downloads and answers searches.
// It keeps no state of its own; everything lives in the store.
type Registry struct {
	store    Store
	fetcher  fetcher.Fetcher
	logger   *zap.Logger
	pageSize int
}

// NewRegistry creates a Registry. pageSize is the default page size for
// searches and listings.
func NewRegistry(st Store, f fetcher.Fetcher, logger *zap.Logger, pageSize int) *Registry {
	if pageSize <= 0 {
		pageSize = config.DefaultPageSize
	}
	return &Registry{
		store:    st,
		fetcher:  f,
		logger:   logger,
		pageSize: pageSize,
	}
}

// RegisterRequest describes one ingestion.
type RegisterRequest struct {
	RepositoryURL string
	Description   string
	Rev           string // empty means the default branch head
	Subdir        string
	TotalFiles    *int64
	TotalSize     *int64
	AccountID     *int64
}

// Register ingests a repository revision and returns the package id.
// Registering a revision that is already known creates nothing new.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (int64, error) {
	meta, err := r.fetch(ctx, req.RepositoryURL, fetcher.Options{Rev: req.Rev, Subdir: req.Subdir})
	if err != nil {
		return 0, err
	}

	description := req.Description
	if description == "" {
		description = meta.Description
	}
	pkg, err := r.ensurePackage(ctx, meta.Name, description, req.RepositoryURL, cleanSubdir(req.Subdir), req.AccountID)
	if err != nil {
		return 0, err
	}

	rev := req.Rev
	if rev == "" {
		rev = meta.Revision
	}
	files, size := req.TotalFiles, req.TotalSize
	if files == nil && meta.Files > 0 {
		files = &meta.Files
	}
	if size == nil && meta.Size > 0 {
		size = &meta.Size
	}

	version, err := r.ensureVersion(ctx, pkg.ID, meta, rev, files, size)
	if err != nil {
		return 0, err
	}

	r.logger.Info("package registered",
		zap.String("name", pkg.Name),
		zap.Int64("package_id", pkg.ID),
		zap.String("version", version.Version),
		zap.String("rev", rev),
	)
	return pkg.ID, nil
}

// RecordDownload attributes one download to the version of url at rev and
// returns the version's new download count. Known versions are counted
// without contacting the fetcher; unknown packages and versions are fetched
// and created first.
func (r *Registry) RecordDownload(ctx context.Context, url, rev, subdir string) (int64, error) {
	subdir = cleanSubdir(subdir)
	candidates, err := r.packagesAt(ctx, url, subdir)
	if err != nil {
		return 0, err
	}

	if rev != "" {
		for _, pkg := range candidates {
			version, err := r.store.GetVersion(ctx, pkg.ID, rev)
			if err == nil {
				return r.increment(ctx, pkg.ID, version.ID)
			}
			if !errors.Is(err, store.ErrNotFound) {
				return 0, err
			}
		}
	}

	meta, err := r.fetch(ctx, url, fetcher.Options{Rev: rev, Subdir: subdir})
	if err != nil {
		return 0, err
	}
	if rev == "" {
		rev = meta.Revision
	}

	var pkg *model.Package
	for _, c := range candidates {
		if c.Name == meta.Name {
			pkg = c
			break
		}
	}
	if pkg == nil && len(candidates) > 0 {
		// The repository was renamed upstream since it was registered.
		pkg = candidates[0]
	}
	if pkg == nil {
		if pkg, err = r.ensurePackage(ctx, meta.Name, meta.Description, url, subdir, nil); err != nil {
			return 0, err
		}
	}

	var files, size *int64
	if meta.Files > 0 {
		files = &meta.Files
	}
	if meta.Size > 0 {
		size = &meta.Size
	}
	version, err := r.ensureVersion(ctx, pkg.ID, meta, rev, files, size)
	if err != nil {
		return 0, err
	}
	return r.increment(ctx, pkg.ID, version.ID)
}

// packagesAt returns the packages registered from the repository at url
// whose package directory is subdir. A monorepo holds one per directory.
func (r *Registry) packagesAt(ctx context.Context, url, subdir string) ([]*model.Package, error) {
	all, err := r.store.ListPackagesByRepositoryKey(ctx, repositoryKey(url))
	if err != nil {
		return nil, err
	}
	var pkgs []*model.Package
	for _, pkg := range all {
		if pkg.Subdir == subdir {
			pkgs = append(pkgs, pkg)
		}
	}
	return pkgs, nil
}

// increment bumps the version counter, then the package aggregate. A
// failure on the aggregate is logged and the version count still returned.
func (r *Registry) increment(ctx context.Context, packageID, versionID int64) (int64, error) {
	count, err := r.store.IncrementVersionDownloads(ctx, versionID)
	if err != nil {
		return 0, err
	}
	if _, err := r.store.IncrementPackageDownloads(ctx, packageID); err != nil {
		r.logger.Warn("package download total out of sync with its versions",
			zap.Int64("package_id", packageID),
			zap.Int64("version_id", versionID),
			zap.Error(err),
		)
	}
	return count, nil
}

// ensurePackage returns the package called name, creating it if needed.
// Description, URL, subdir and account are only written on creation.
func (r *Registry) ensurePackage(ctx context.Context, name, description, url, subdir string, accountID *int64) (*model.Package, error) {
	pkg, err := r.store.GetPackageByName(ctx, name)
	if err == nil {
		return pkg, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	pkg = &model.Package{
		Name:          name,
		Description:   description,
		RepositoryURL: url,
		RepositoryKey: repositoryKey(url),
		Subdir:        subdir,
		AccountID:     accountID,
	}
	err = r.store.CreatePackage(ctx, pkg)
	if errors.Is(err, store.ErrDuplicateName) {
		// Lost a race with a concurrent first ingestion.
		return r.store.GetPackageByName(ctx, name)
	}
	if err != nil {
		return nil, err
	}

	r.logger.Info("package created", zap.String("name", name), zap.Int64("package_id", pkg.ID))
	return pkg, nil
}

// ensureVersion returns the version of packageID recorded for rev,
// creating it from meta if needed.
func (r *Registry) ensureVersion(ctx context.Context, packageID int64, meta *fetcher.Metadata, rev string, files, size *int64) (*model.PackageVersion, error) {
	version, err := r.store.GetVersion(ctx, packageID, rev)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	version = &model.PackageVersion{
		PackageID:     packageID,
		Version:       meta.Version,
		ReadmeContent: optional(meta.Readme),
		License:       optional(meta.License),
		Rev:           optional(rev),
		TotalFiles:    files,
		TotalSize:     size,
	}
	err = r.store.CreateVersion(ctx, version)
	if errors.Is(err, store.ErrDuplicateRevision) {
		return r.store.GetVersion(ctx, packageID, rev)
	}
	if err != nil {
		return nil, err
	}
	return version, nil
}

func (r *Registry) fetch(ctx context.Context, url string, opts fetcher.Options) (*fetcher.Metadata, error) {
	meta, err := r.fetcher.Fetch(ctx, url, opts)
	if err != nil {
		r.logger.Warn("metadata fetch failed",
			zap.String("url", url),
			zap.String("rev", opts.Rev),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, url, err)
	}
	if strings.TrimSpace(meta.Name) == "" {
		return nil, fmt.Errorf("%w: %s: no package name", ErrFetchFailed, url)
	}
	return meta, nil
}

// Query selects a page of packages. Zero values take defaults.
type Query struct {
	Query     string
	SortField model.SortField
	SortOrder model.SortOrder
	Page      int
	PageSize  int
}

// Page is one window of a package listing.
type Page struct {
	Items      []*model.Package `json:"items"`
	TotalCount int64            `json:"totalCount"`
	TotalPages int64            `json:"totalPages"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
}

// Search returns the packages matching every term of q.Query, most
// relevant first unless q.SortField says otherwise.
func (r *Registry) Search(ctx context.Context, q Query) (*Page, error) {
	page, size := r.window(q)
	terms := store.SearchTerms(q.Query)
	if len(terms) == 0 {
		return newPage(nil, 0, page, size), nil
	}

	items, total, err := r.store.SearchPackages(ctx, terms, store.ListOptions{
		SortField: q.SortField,
		SortOrder: q.SortOrder,
		Limit:     size,
		Offset:    offset(page, size),
	})
	if err != nil {
		return nil, err
	}
	return newPage(items, total, page, size), nil
}

// ListAll returns a page of all packages, by name unless q.SortField says
// otherwise. q.Query is ignored.
func (r *Registry) ListAll(ctx context.Context, q Query) (*Page, error) {
	page, size := r.window(q)
	items, total, err := r.store.ListPackages(ctx, store.ListOptions{
		SortField: q.SortField,
		SortOrder: q.SortOrder,
		Limit:     size,
		Offset:    offset(page, size),
	})
	if err != nil {
		return nil, err
	}
	return newPage(items, total, page, size), nil
}

func (r *Registry) window(q Query) (page, size int) {
	page, size = q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = r.pageSize
	}
	if size > config.MaxPageSize {
		size = config.MaxPageSize
	}
	return page, size
}

// offset is the number of rows before page, saturating at math.MaxInt so
// that absurd page numbers land past the end instead of wrapping around.
func offset(page, size int) int {
	if page-1 > math.MaxInt/size {
		return math.MaxInt
	}
	return (page - 1) * size
}

func newPage(items []*model.Package, total int64, page, size int) *Page {
	if items == nil {
		items = []*model.Package{}
	}
	return &Page{
		Items:      items,
		TotalCount: total,
		TotalPages: (total + int64(size) - 1) / int64(size),
		Page:       page,
		PageSize:   size,
	}
}

// Autocomplete suggests up to limit packages whose name starts with prefix.
func (r *Registry) Autocomplete(ctx context.Context, prefix string, limit int) ([]*model.Package, error) {
	prefix = strings.TrimSpace(prefix)
	if limit <= 0 {
		limit = DefaultAutocompleteLimit
	}
	if limit > config.MaxPageSize {
		limit = config.MaxPageSize
	}

	items, err := r.store.AutocompletePackages(ctx, prefix, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*model.Package{}
	}
	return items, nil
}

// PackageDetail is a package with its versions.
type PackageDetail struct {
	Package  *model.Package          `json:"package"`
	Versions []*model.PackageVersion `json:"versions"`
}

// PackageDetail returns the package called name and its versions in the
// given order.
func (r *Registry) PackageDetail(ctx context.Context, name string, sort model.VersionSort) (*PackageDetail, error) {
	pkg, err := r.store.GetPackageByName(ctx, name)
	if err != nil {
		return nil, err
	}
	versions, err := r.store.ListVersions(ctx, pkg.ID, sort)
	if err != nil {
		return nil, err
	}
	if versions == nil {
		versions = []*model.PackageVersion{}
	}
	return &PackageDetail{Package: pkg, Versions: versions}, nil
}

// Badge summarizes a package: its highest version label and its total
// downloads.
func (r *Registry) Badge(ctx context.Context, name string) (*model.Badge, error) {
	pkg, err := r.store.GetPackageByName(ctx, name)
	if err != nil {
		return nil, err
	}
	versions, err := r.store.ListVersions(ctx, pkg.ID, model.VersionSortLatest)
	if err != nil {
		return nil, err
	}

	latest := ""
	for _, v := range versions {
		if latest == "" || vers.Compare(strings.TrimPrefix(v.Version, "v"), strings.TrimPrefix(latest, "v")) > 0 {
			latest = v.Version
		}
	}
	return &model.Badge{
		Name:           pkg.Name,
		Version:        latest,
		TotalDownloads: pkg.TotalDownloadsCount,
	}, nil
}

// Stats returns registry-wide counts.
func (r *Registry) Stats(ctx context.Context) (*model.Stats, error) {
	packages, err := r.store.CountPackages(ctx)
	if err != nil {
		return nil, err
	}
	versions, err := r.store.CountVersions(ctx)
	if err != nil {
		return nil, err
	}
	return &model.Stats{Packages: packages, Versions: versions}, nil
}

// repositoryKey is the canonical key of url, or the trimmed url itself for
// locations that are not host/owner/repo shaped, such as local paths.
func repositoryKey(url string) string {
	if key, err := repourl.Canonicalize(url); err == nil {
		return key
	}
	return strings.TrimSpace(url)
}

func cleanSubdir(subdir string) string {
	return strings.Trim(strings.TrimSpace(subdir), "/")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
