package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ippclub/dora-registry/internal/model"
)

const packageColumns = `id, name, description, repository_url, repository_key, subdir, account_id,
	total_downloads_count, created_at, updated_at`

func scanPackage(row scanner) (*model.Package, error) {
	pkg := &model.Package{}
	err := row.Scan(
		&pkg.ID,
		&pkg.Name,
		&pkg.Description,
		&pkg.RepositoryURL,
		&pkg.RepositoryKey,
		&pkg.Subdir,
		&pkg.AccountID,
		&pkg.TotalDownloadsCount,
		&pkg.CreatedAt,
		&pkg.UpdatedAt,
	)
	return pkg, err
}

// CreatePackage inserts a package and fills in its id and timestamps.
// A name that is already taken yields ErrDuplicateName.
func (s *SQLiteStore) CreatePackage(ctx context.Context, pkg *model.Package) error {
	query := `
		INSERT INTO packages (name, description, repository_url, repository_key, subdir, account_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	now := time.Now().UTC()
	err := s.db.QueryRowContext(
		ctx,
		query,
		pkg.Name,
		pkg.Description,
		pkg.RepositoryURL,
		pkg.RepositoryKey,
		pkg.Subdir,
		pkg.AccountID,
		now,
		now,
	).Scan(&pkg.ID)

	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateName, pkg.Name)
	}
	if err != nil {
		return unavailable("create package", err)
	}

	pkg.CreatedAt = now
	pkg.UpdatedAt = now
	return nil
}

// GetPackage gets a package by id
func (s *SQLiteStore) GetPackage(ctx context.Context, id int64) (*model.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE id = ?`
	pkg, err := scanPackage(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("package %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get package", err)
	}
	return pkg, nil
}

// GetPackageByName gets a package by name
func (s *SQLiteStore) GetPackageByName(ctx context.Context, name string) (*model.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE name = ?`
	pkg, err := scanPackage(s.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("package %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get package", err)
	}
	return pkg, nil
}

// ListPackagesByRepositoryKey returns the packages registered from one
// repository, oldest first. Monorepos can hold several.
func (s *SQLiteStore) ListPackagesByRepositoryKey(ctx context.Context, key string) ([]*model.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE repository_key = ? ORDER BY id`
	return s.queryPackages(ctx, "list packages by repository", query, key)
}

// CountPackages returns the number of packages
func (s *SQLiteStore) CountPackages(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM packages`).Scan(&n); err != nil {
		return 0, unavailable("count packages", err)
	}
	return n, nil
}

// IncrementPackageDownloads adds one to the package's aggregate download
// counter and returns the new value.
func (s *SQLiteStore) IncrementPackageDownloads(ctx context.Context, id int64) (int64, error) {
	query := `
		UPDATE packages
		SET total_downloads_count = total_downloads_count + 1, updated_at = ?
		WHERE id = ?
		RETURNING total_downloads_count
	`
	var count int64
	err := s.db.QueryRowContext(ctx, query, time.Now().UTC(), id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("package %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, unavailable("increment package downloads", err)
	}
	return count, nil
}

func (s *SQLiteStore) queryPackages(ctx context.Context, op, query string, args ...any) ([]*model.Package, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	var packages []*model.Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, unavailable("scan package", err)
		}
		packages = append(packages, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return packages, nil
}
