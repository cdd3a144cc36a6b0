package model

import (
	"time"
)

// Package is a registry entry for one source repository.
type Package struct {
	ID                  int64     `db:"id" json:"id"`
	Name                string    `db:"name" json:"name"`
	Description         string    `db:"description" json:"description"`
	RepositoryURL       string    `db:"repository_url" json:"repositoryUrl"`
	RepositoryKey       string    `db:"repository_key" json:"-"`
	Subdir              string    `db:"subdir" json:"subdir,omitempty"` // package directory within a monorepo
	AccountID           *int64    `db:"account_id" json:"accountId,omitempty"`
	TotalDownloadsCount int64     `db:"total_downloads_count" json:"totalDownloadsCount"`
	CreatedAt           time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time `db:"updated_at" json:"updatedAt"`
}

// PackageVersion is one ingested revision of a package.
type PackageVersion struct {
	ID             int64     `db:"id" json:"id"`
	PackageID      int64     `db:"package_id" json:"packageId"`
	Version        string    `db:"version" json:"version"`
	ReadmeContent  *string   `db:"readme_content" json:"readmeContent,omitempty"`
	License        *string   `db:"license" json:"license,omitempty"`
	DownloadsCount int64     `db:"downloads_count" json:"downloadsCount"`
	Rev            *string   `db:"rev" json:"rev,omitempty"`
	TotalFiles     *int64    `db:"total_files" json:"totalFiles,omitempty"`
	TotalSize      *int64    `db:"total_size" json:"totalSize,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// VersionSort selects the order of a package's version list.
type VersionSort string

const (
	VersionSortLatest        VersionSort = "latest"
	VersionSortOldest        VersionSort = "oldest"
	VersionSortMostDownloads VersionSort = "most_downloads"
)

// ParseVersionSort maps a query value to a VersionSort, defaulting to latest.
func ParseVersionSort(s string) VersionSort {
	switch VersionSort(s) {
	case VersionSortOldest, VersionSortMostDownloads:
		return VersionSort(s)
	default:
		return VersionSortLatest
	}
}

// SortField is the package column a listing is ordered by.
type SortField string

const (
	SortRelevance SortField = "relevance"
	SortName      SortField = "name"
	SortDownloads SortField = "downloads"
	SortCreated   SortField = "created"
	SortUpdated   SortField = "updated"
)

// ParseSortField returns the field for s; unknown or empty values yield "".
func ParseSortField(s string) SortField {
	switch SortField(s) {
	case SortRelevance, SortName, SortDownloads, SortCreated, SortUpdated:
		return SortField(s)
	default:
		return ""
	}
}

// SortOrder is the direction of a listing.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ParseSortOrder returns the order for s; unknown or empty values yield "".
func ParseSortOrder(s string) SortOrder {
	switch SortOrder(s) {
	case SortAsc, SortDesc:
		return SortOrder(s)
	default:
		return ""
	}
}

// Badge is the summary shown on a package badge.
type Badge struct {
	Name           string `json:"name"`
	Version        string `json:"version"`
	TotalDownloads int64  `json:"totalDownloads"`
}

// Stats holds registry-wide row counts.
type Stats struct {
	Packages int64 `json:"packages"`
	Versions int64 `json:"versions"`
}
