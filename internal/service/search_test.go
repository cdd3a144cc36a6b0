package service

import (
	"context"
	"math"
	"testing"

	"github.com/ippclub/dora-registry/internal/model"
)

// seed registers one package per name/description pair.
func seed(t *testing.T, r *Registry, stubName func(string), packages [][2]string) {
	t.Helper()
	for _, p := range packages {
		stubName(p[0])
		if _, err := r.Register(context.Background(), RegisterRequest{
			RepositoryURL: "https://github.com/dora/" + p[0],
			Description:   p[1],
		}); err != nil {
			t.Fatalf("Register(%s) failed: %v", p[0], err)
		}
	}
}

func pageNames(p *Page) []string {
	names := make([]string, len(p.Items))
	for i, pkg := range p.Items {
		names[i] = pkg.Name
	}
	return names
}

func newSearchRegistry(t *testing.T, pageSize int) *Registry {
	r, _, stub := newTestRegistry(t, pageSize)
	seed(t, r, func(name string) { stub.Meta.Name = name }, [][2]string{
		{"alpha", "The first package"},
		{"beta", "The first Diva"},
		{"gamma", "Charles Diya"},
		{"first-steps", "A tutorial"},
	})
	return r
}

func TestSearchConjunction(t *testing.T) {
	r := newSearchRegistry(t, 0)

	page, err := r.Search(context.Background(), Query{Query: "the package"})
	if err != nil {
		t.Fatal(err)
	}
	if names := pageNames(page); len(names) != 1 || names[0] != "alpha" {
		t.Errorf("items = %v, want [alpha]", names)
	}
	if page.TotalCount != 1 || page.TotalPages != 1 {
		t.Errorf("totals = %d/%d, want 1/1", page.TotalCount, page.TotalPages)
	}
}

func TestSearchRanksByRelevance(t *testing.T) {
	r := newSearchRegistry(t, 0)

	page, err := r.Search(context.Background(), Query{Query: "first"})
	if err != nil {
		t.Fatal(err)
	}
	names := pageNames(page)
	if len(names) != 3 {
		t.Fatalf("items = %v, want 3 matches", names)
	}
	if names[0] != "first-steps" {
		t.Errorf("top result = %q, want the name match first", names[0])
	}

	page, err = r.Search(context.Background(), Query{Query: "first", SortField: model.SortName, SortOrder: model.SortDesc})
	if err != nil {
		t.Fatal(err)
	}
	if names := pageNames(page); len(names) != 3 || names[0] != "first-steps" || names[1] != "beta" || names[2] != "alpha" {
		t.Errorf("items = %v, want [first-steps beta alpha]", names)
	}
}

func TestSearchPagination(t *testing.T) {
	r := newSearchRegistry(t, 2)

	q := Query{Query: "first", SortField: model.SortName}
	page1, err := r.Search(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	q.Page = 2
	page2, err := r.Search(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	q.Page = 3
	page3, err := r.Search(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}

	if page1.Page != 1 || page1.PageSize != 2 {
		t.Errorf("defaults = page %d size %d, want 1/2", page1.Page, page1.PageSize)
	}
	for i, p := range []*Page{page1, page2, page3} {
		if p.TotalCount != 3 || p.TotalPages != 2 {
			t.Errorf("page %d totals = %d/%d, want 3/2", i+1, p.TotalCount, p.TotalPages)
		}
	}
	if names := pageNames(page1); len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("page 1 = %v, want [alpha beta]", names)
	}
	if names := pageNames(page2); len(names) != 1 || names[0] != "first-steps" {
		t.Errorf("page 2 = %v, want [first-steps]", names)
	}
	if len(page3.Items) != 0 {
		t.Errorf("page 3 = %v, want empty", pageNames(page3))
	}

	q.Page = 1<<62 + 1
	far, err := r.Search(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if len(far.Items) != 0 || far.TotalCount != 3 || far.TotalPages != 2 {
		t.Errorf("page %d = %v totals %d/%d, want empty with 3/2", q.Page, pageNames(far), far.TotalCount, far.TotalPages)
	}
}

func TestSearchNoMatches(t *testing.T) {
	r := newSearchRegistry(t, 0)

	for _, query := range []string{"", "   ", "nothing", `"*^`} {
		page, err := r.Search(context.Background(), Query{Query: query})
		if err != nil {
			t.Fatalf("Search(%q) failed: %v", query, err)
		}
		if len(page.Items) != 0 || page.TotalCount != 0 || page.TotalPages != 0 {
			t.Errorf("Search(%q) = %+v, want empty with zero totals", query, page)
		}
		if page.Items == nil {
			t.Errorf("Search(%q) items are nil, want empty slice", query)
		}
	}
}

func TestListAll(t *testing.T) {
	r := newSearchRegistry(t, 0)

	page, err := r.ListAll(context.Background(), Query{PageSize: 3})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalCount != 4 || page.TotalPages != 2 {
		t.Errorf("totals = %d/%d, want 4/2", page.TotalCount, page.TotalPages)
	}
	if names := pageNames(page); len(names) != 3 || names[0] != "alpha" || names[2] != "first-steps" {
		t.Errorf("items = %v, want name order", names)
	}

	page, err = r.ListAll(context.Background(), Query{Page: 2, PageSize: 3})
	if err != nil {
		t.Fatal(err)
	}
	if names := pageNames(page); len(names) != 1 || names[0] != "gamma" {
		t.Errorf("page 2 = %v, want [gamma]", names)
	}

	page, err = r.ListAll(context.Background(), Query{Page: 1<<62 + 1, PageSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 0 || page.TotalCount != 4 || page.TotalPages != 2 {
		t.Errorf("far page = %v totals %d/%d, want empty with 4/2", pageNames(page), page.TotalCount, page.TotalPages)
	}
}

func TestOffset(t *testing.T) {
	tests := []struct {
		page, size int
		want       int
	}{
		{1, 20, 0},
		{3, 20, 40},
		{1<<62 + 1, 2, math.MaxInt},
		{math.MaxInt, 100, math.MaxInt},
		{math.MaxInt/7 + 1, 7, 7 * (math.MaxInt / 7)},
	}
	for _, tt := range tests {
		if got := offset(tt.page, tt.size); got != tt.want {
			t.Errorf("offset(%d, %d) = %d, want %d", tt.page, tt.size, got, tt.want)
		}
	}
}

func TestAutocomplete(t *testing.T) {
	r := newSearchRegistry(t, 0)
	ctx := context.Background()
	if _, err := r.RecordDownload(ctx, "https://github.com/dora/first-steps", "", ""); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		prefix string
		limit  int
		want   []string
	}{
		{"a", 0, []string{"alpha"}},
		{"G", 0, []string{"gamma"}},
		{"first", 0, []string{"first-steps"}},
		{"", 0, []string{}},
		{"%", 0, []string{}},
		{"_eta", 0, []string{}},
		{"zzz", 0, []string{}},
	}
	for _, tt := range tests {
		items, err := r.Autocomplete(ctx, tt.prefix, tt.limit)
		if err != nil {
			t.Fatalf("Autocomplete(%q) failed: %v", tt.prefix, err)
		}
		names := pageNames(&Page{Items: items})
		if len(names) != len(tt.want) {
			t.Errorf("Autocomplete(%q) = %v, want %v", tt.prefix, names, tt.want)
			continue
		}
		for i := range names {
			if names[i] != tt.want[i] {
				t.Errorf("Autocomplete(%q) = %v, want %v", tt.prefix, names, tt.want)
				break
			}
		}
	}
}

func TestWindow(t *testing.T) {
	r := &Registry{pageSize: 20}
	tests := []struct {
		in             Query
		page, pageSize int
	}{
		{Query{}, 1, 20},
		{Query{Page: -3, PageSize: -1}, 1, 20},
		{Query{Page: 4, PageSize: 5}, 4, 5},
		{Query{PageSize: 1000}, 1, 100},
	}
	for _, tt := range tests {
		page, size := r.window(tt.in)
		if page != tt.page || size != tt.pageSize {
			t.Errorf("window(%+v) = %d/%d, want %d/%d", tt.in, page, size, tt.page, tt.pageSize)
		}
	}
}

func TestNewPageTotalPages(t *testing.T) {
	tests := []struct {
		total int64
		size  int
		want  int64
	}{
		{0, 20, 0},
		{1, 20, 1},
		{20, 20, 1},
		{21, 20, 2},
		{3, 2, 2},
	}
	for _, tt := range tests {
		if got := newPage(nil, tt.total, 1, tt.size).TotalPages; got != tt.want {
			t.Errorf("total_pages(%d, %d) = %d, want %d", tt.total, tt.size, got, tt.want)
		}
	}
}
