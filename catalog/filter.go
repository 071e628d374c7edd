package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type SortKey string

const (
	SortName   SortKey = "name"
	SortPrice  SortKey = "price"
	SortRating SortKey = "rating"
	SortNewest SortKey = "newest" // most recently created first
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Filter selects, orders and pages products. Zero fields do not filter.
// Desc reverses the order of SortBy; ties are always broken by ascending ID
// so that pages are stable.
type Filter struct {
	Category      string
	Search        string // case-insensitive; matches name, description or a tag
	MinPriceCents int64
	MaxPriceCents int64
	InStockOnly   bool
	SortBy        SortKey
	Desc          bool
	Page          int // 1-based
	PageSize      int
}

// Page is one page of a product listing. Total counts every match, not just
// Items. Degraded is set when the page was filtered in process because the
// remote store could not filter.
type Page struct {
	Items    []Product `json:"items"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
	Degraded bool      `json:"degraded,omitempty"`
}

// Normalize fills defaults: page 1, page size 20 (at most 100), sort by name.
// Category and Search are trimmed; Search is lower-cased.
func (f Filter) Normalize() Filter {
	f.Category = strings.TrimSpace(f.Category)
	f.Search = strings.ToLower(strings.TrimSpace(f.Search))
	if f.SortBy == "" {
		f.SortBy = SortName
	}
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.PageSize <= 0:
		f.PageSize = defaultPageSize
	case f.PageSize > maxPageSize:
		f.PageSize = maxPageSize
	}
	return f
}

// Validate reports filters no store could answer.
func (f Filter) Validate() error {
	switch f.SortBy {
	case "", SortName, SortPrice, SortRating, SortNewest:
	default:
		return fmt.Errorf("%w: unknown sort %q", ErrInvalidArgument, f.SortBy)
	}
	if f.MinPriceCents < 0 || f.MaxPriceCents < 0 {
		return fmt.Errorf("%w: negative price bound", ErrInvalidArgument)
	}
	if f.MaxPriceCents > 0 && f.MinPriceCents > f.MaxPriceCents {
		return fmt.Errorf("%w: min price %d above max %d", ErrInvalidArgument, f.MinPriceCents, f.MaxPriceCents)
	}
	return nil
}

// Key is the cache key of a normalized filter.
func (f Filter) Key() string {
	return fmt.Sprintf("c=%s|q=%s|min=%d|max=%d|stock=%t|sort=%s|desc=%t|p=%d|n=%d",
		strconv.Quote(f.Category), strconv.Quote(f.Search),
		f.MinPriceCents, f.MaxPriceCents, f.InStockOnly,
		f.SortBy, f.Desc, f.Page, f.PageSize)
}

// Offset is the index of the first item of the page.
func (f Filter) Offset() int { return (f.Page - 1) * f.PageSize }

// Match reports whether p passes the filter. f must be normalized.
func (f Filter) Match(p Product) bool {
	if f.Category != "" && !strings.EqualFold(p.Category, f.Category) {
		return false
	}
	if f.MinPriceCents > 0 && p.PriceCents < f.MinPriceCents {
		return false
	}
	if f.MaxPriceCents > 0 && p.PriceCents > f.MaxPriceCents {
		return false
	}
	if f.InStockOnly && !p.InStock() {
		return false
	}
	if f.Search != "" && !matchesSearch(p, f.Search) {
		return false
	}
	return true
}

func matchesSearch(p Product, q string) bool {
	if strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.Description), q) {
		return true
	}
	for _, t := range p.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// Less orders a before b.
func (f Filter) Less(a, b Product) bool {
	var c int
	switch f.SortBy {
	case SortPrice:
		c = cmpOrdered(a.PriceCents, b.PriceCents)
	case SortRating:
		c = cmpOrdered(a.Rating, b.Rating)
	case SortNewest:
		c = b.CreatedAt.Compare(a.CreatedAt)
	default:
		c = strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	}
	if f.Desc {
		c = -c
	}
	if c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Apply filters, sorts and pages all in process. f must be normalized.
func (f Filter) Apply(all []Product) Page {
	matched := make([]Product, 0, len(all))
	for _, p := range all {
		if f.Match(p) {
			matched = append(matched, p)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return f.Less(matched[i], matched[j]) })

	page := Page{Total: len(matched), Page: f.Page, PageSize: f.PageSize}
	start := min(f.Offset(), len(matched))
	end := min(start+f.PageSize, len(matched))
	page.Items = append([]Product{}, matched[start:end]...)
	return page
}
