package store

import (
	"context"
	"strings"
	"unicode"

	"github.com/ippclub/dora-registry/internal/model"
)

// ListOptions selects the order and window of a package listing.
type ListOptions struct {
	SortField model.SortField
	SortOrder model.SortOrder
	Limit     int
	Offset    int
}

// SearchTerms splits a query into whitespace-delimited terms, dropping
// characters that carry meaning in the FTS query syntax and terms that
// contain no letters or digits.
func SearchTerms(query string) []string {
	var terms []string
	for _, field := range strings.Fields(query) {
		term := strings.Map(func(r rune) rune {
			switch r {
			case '"', '*', '^':
				return -1
			}
			return r
		}, field)
		if strings.IndexFunc(term, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r)
		}) < 0 {
			continue
		}
		terms = append(terms, term)
	}
	return terms
}

// matchExpression quotes every term so FTS operators in user input are
// matched literally; juxtaposed phrases are an implicit AND.
func matchExpression(terms []string) string {
	quoted := make([]string, len(terms))
	for i, term := range terms {
		quoted[i] = `"` + term + `"`
	}
	return strings.Join(quoted, " ")
}

// orderBy renders the ORDER BY clause for a listing. ranked reports whether
// the query exposes a relevance score column m.score.
func orderBy(field model.SortField, order model.SortOrder, ranked bool) string {
	if field == "" || (field == model.SortRelevance && !ranked) {
		if ranked {
			field = model.SortRelevance
		} else {
			field = model.SortName
		}
	}

	dir := func(def model.SortOrder) string {
		if order == "" {
			order = def
		}
		if order == model.SortAsc {
			return "ASC"
		}
		return "DESC"
	}

	switch field {
	case model.SortRelevance:
		return "m.score " + dir(model.SortDesc) + ", p.id ASC"
	case model.SortDownloads:
		return "p.total_downloads_count " + dir(model.SortDesc) + ", p.id ASC"
	case model.SortCreated:
		return "p.id " + dir(model.SortDesc)
	case model.SortUpdated:
		return "p.updated_at " + dir(model.SortDesc) + ", p.id ASC"
	default:
		return "p.name " + dir(model.SortAsc) + ", p.id ASC"
	}
}

func prefixed(columns, alias string) string {
	fields := strings.Split(columns, ",")
	for i, f := range fields {
		fields[i] = alias + "." + strings.TrimSpace(f)
	}
	return strings.Join(fields, ", ")
}

// SearchPackages returns one window of the packages whose name and
// description contain every term, together with the total number of matches.
func (s *SQLiteStore) SearchPackages(ctx context.Context, terms []string, opts ListOptions) ([]*model.Package, int64, error) {
	if len(terms) == 0 {
		return nil, 0, nil
	}
	match := matchExpression(terms)

	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM packages_fts WHERE packages_fts MATCH ?`, match,
	).Scan(&total)
	if err != nil {
		return nil, 0, unavailable("count search results", err)
	}
	if total == 0 || opts.Offset < 0 || int64(opts.Offset) >= total {
		return nil, total, nil
	}

	query := `
		SELECT ` + prefixed(packageColumns, "p") + `
		FROM packages p
		JOIN (
			SELECT docid, rank(matchinfo(packages_fts, 'pcx')) AS score
			FROM packages_fts
			WHERE packages_fts MATCH ?
		) AS m ON m.docid = p.id
		ORDER BY ` + orderBy(opts.SortField, opts.SortOrder, true) + `
		LIMIT ? OFFSET ?
	`
	items, err := s.queryPackages(ctx, "search packages", query, match, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListPackages returns one window of all packages together with the total
// number of packages.
func (s *SQLiteStore) ListPackages(ctx context.Context, opts ListOptions) ([]*model.Package, int64, error) {
	total, err := s.CountPackages(ctx)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 || opts.Offset < 0 || int64(opts.Offset) >= total {
		return nil, total, nil
	}

	query := `
		SELECT ` + prefixed(packageColumns, "p") + `
		FROM packages p
		ORDER BY ` + orderBy(opts.SortField, opts.SortOrder, false) + `
		LIMIT ? OFFSET ?
	`
	items, err := s.queryPackages(ctx, "list packages", query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// AutocompletePackages returns up to limit packages whose name starts with
// prefix, case-insensitively, most downloaded first.
func (s *SQLiteStore) AutocompletePackages(ctx context.Context, prefix string, limit int) ([]*model.Package, error) {
	if prefix == "" || limit <= 0 {
		return nil, nil
	}
	escaped := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(prefix)

	query := `
		SELECT ` + packageColumns + `
		FROM packages
		WHERE name LIKE ? ESCAPE '\'
		ORDER BY total_downloads_count DESC, name COLLATE NOCASE ASC, id ASC
		LIMIT ?
	`
	return s.queryPackages(ctx, "autocomplete packages", query, escaped+"%", limit)
}
