package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ippclub/dora-registry/internal/model"
)

const versionColumns = `id, package_id, version, readme_content, license, downloads_count,
	rev, total_files, total_size, created_at, updated_at`

func scanVersion(row scanner) (*model.PackageVersion, error) {
	version := &model.PackageVersion{}
	err := row.Scan(
		&version.ID,
		&version.PackageID,
		&version.Version,
		&version.ReadmeContent,
		&version.License,
		&version.DownloadsCount,
		&version.Rev,
		&version.TotalFiles,
		&version.TotalSize,
		&version.CreatedAt,
		&version.UpdatedAt,
	)
	return version, err
}

// CreateVersion inserts a version and fills in its id and timestamps.
// A (package, rev) pair that already exists yields ErrDuplicateRevision.
func (s *SQLiteStore) CreateVersion(ctx context.Context, version *model.PackageVersion) error {
	query := `
		INSERT INTO package_versions (package_id, version, readme_content, license, rev, total_files, total_size, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	now := time.Now().UTC()
	err := s.db.QueryRowContext(
		ctx,
		query,
		version.PackageID,
		version.Version,
		version.ReadmeContent,
		version.License,
		version.Rev,
		version.TotalFiles,
		version.TotalSize,
		now,
		now,
	).Scan(&version.ID)

	if isUniqueViolation(err) {
		return fmt.Errorf("%w: package %d", ErrDuplicateRevision, version.PackageID)
	}
	if err != nil {
		return unavailable("create version", err)
	}

	version.CreatedAt = now
	version.UpdatedAt = now
	return nil
}

// GetVersion gets the version of a package recorded for rev. An empty rev
// matches the version recorded without one.
func (s *SQLiteStore) GetVersion(ctx context.Context, packageID int64, rev string) (*model.PackageVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM package_versions WHERE package_id = ? AND rev IS ? ORDER BY id LIMIT 1`
	version, err := scanVersion(s.db.QueryRowContext(ctx, query, packageID, nullString(rev)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("package %d rev %q: %w", packageID, rev, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get version", err)
	}
	return version, nil
}

// ListVersions gets all versions of a package in the requested order.
// Ties are broken by insertion order.
func (s *SQLiteStore) ListVersions(ctx context.Context, packageID int64, sort model.VersionSort) ([]*model.PackageVersion, error) {
	var order string
	switch sort {
	case model.VersionSortOldest:
		order = "id ASC"
	case model.VersionSortMostDownloads:
		order = "downloads_count DESC, id ASC"
	default:
		order = "id DESC"
	}

	query := `SELECT ` + versionColumns + ` FROM package_versions WHERE package_id = ? ORDER BY ` + order
	rows, err := s.db.QueryContext(ctx, query, packageID)
	if err != nil {
		return nil, unavailable("query versions", err)
	}
	defer rows.Close()

	var versions []*model.PackageVersion
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, unavailable("scan version", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query versions", err)
	}
	return versions, nil
}

// CountVersions returns the number of versions across all packages
func (s *SQLiteStore) CountVersions(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM package_versions`).Scan(&n); err != nil {
		return 0, unavailable("count versions", err)
	}
	return n, nil
}

// IncrementVersionDownloads adds one to the version's download counter and
// returns the new value.
func (s *SQLiteStore) IncrementVersionDownloads(ctx context.Context, id int64) (int64, error) {
	query := `
		UPDATE package_versions
		SET downloads_count = downloads_count + 1, updated_at = ?
		WHERE id = ?
		RETURNING downloads_count
	`
	var count int64
	err := s.db.QueryRowContext(ctx, query, time.Now().UTC(), id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("version %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, unavailable("increment version downloads", err)
	}
	return count, nil
}
