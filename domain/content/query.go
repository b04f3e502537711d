package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// MaxItemsPerPage bounds query cost on the public path.
const MaxItemsPerPage = 50

// DefaultItemsPerPage applies when a widget has no explicit page size.
const DefaultItemsPerPage = 10

// Sortable columns, whitelisted before they reach SQL.
var sortColumns = map[string]string{
	"published_at": "ci.published_at",
	"title":        "ci.title",
	"view_count":   "ci.view_count",
}

// Filters is a widget's static content selection, fixed at configuration
// time by the website owner.
type Filters struct {
	WebsiteID         string
	IncludeCategories []string
	ExcludeCategories []string
	IncludeTags       []string
	ExcludeTags       []string
	IncludeAuthors    []string
	FeaturedOnly      bool
	SortBy            string
	SortOrder         string
	ItemsPerPage      int
}

// Overrides carries per-request parameters from the public endpoint.
type Overrides struct {
	Search   string
	Category string
	Tag      string
	Author   string
	SortBy   string
	SortOrder string
	Page     int
	Limit    int
}

// Effective is the merged query input. Request-time filters narrow the
// static configuration and never widen it: both the static clauses and the
// override clauses are applied, so a request for a statically excluded
// category yields an empty result rather than re-including it.
type Effective struct {
	Filters
	Search           string
	RequestCategory  string
	RequestTag       string
	RequestAuthor    string
	Page             int
}

// Merge combines static filters with request overrides under the
// narrow-only precedence rule and clamps pagination inputs.
func Merge(f Filters, ov Overrides) Effective {
	eff := Effective{
		Filters:         f,
		Search:          strings.TrimSpace(ov.Search),
		RequestCategory: strings.TrimSpace(ov.Category),
		RequestTag:      strings.TrimSpace(ov.Tag),
		RequestAuthor:   strings.TrimSpace(ov.Author),
		Page:            ov.Page,
	}

	if eff.Page < 1 {
		eff.Page = 1
	}

	if ov.Limit > 0 {
		eff.ItemsPerPage = ov.Limit
	}
	if eff.ItemsPerPage <= 0 {
		eff.ItemsPerPage = DefaultItemsPerPage
	}
	if eff.ItemsPerPage > MaxItemsPerPage {
		eff.ItemsPerPage = MaxItemsPerPage
	}

	// Sort overrides are accepted only from the whitelist; anything else
	// keeps the widget's configured sort.
	if _, ok := sortColumns[ov.SortBy]; ok {
		eff.SortBy = ov.SortBy
		eff.SortOrder = ov.SortOrder
	}
	if _, ok := sortColumns[eff.SortBy]; !ok {
		eff.SortBy = "published_at"
	}
	if eff.SortOrder != "asc" && eff.SortOrder != "desc" {
		eff.SortOrder = "desc"
	}

	return eff
}

// Offset returns the 1-indexed pagination offset.
func (e Effective) Offset() int {
	return (e.Page - 1) * e.ItemsPerPage
}

// Query resolves filtered, paginated content for widgets.
type Query struct {
	db *sqlx.DB
}

func NewQuery(db *sqlx.DB) *Query {
	return &Query{db: db}
}

// Resolve runs the merged query and returns one page plus the total match
// count. A page past the last match returns an empty item list, not an
// error.
func (q *Query) Resolve(ctx context.Context, eff Effective) (*Page, error) {
	where, args := buildWhere(eff)

	countSQL := "SELECT COUNT(*) FROM content_items ci " + where
	var total int
	if err := q.db.GetContext(ctx, &total, countSQL, args...); err != nil {
		return nil, fmt.Errorf("content count: %w", err)
	}

	listSQL, listArgs := buildList(eff, where, args)
	items := []Item{}
	if err := q.db.SelectContext(ctx, &items, listSQL, listArgs...); err != nil {
		return nil, fmt.Errorf("content list: %w", err)
	}

	return &Page{Items: items, Total: total}, nil
}

// argList numbers Postgres placeholders as conditions accumulate.
type argList struct {
	args []interface{}
}

func (a *argList) add(v interface{}) string {
	a.args = append(a.args, v)
	return fmt.Sprintf("$%d", len(a.args))
}

func buildWhere(eff Effective) (string, []interface{}) {
	al := &argList{}
	conds := []string{
		"ci.website_id = " + al.add(eff.WebsiteID),
		"ci.status = 'published'",
		"ci.published_at <= NOW()",
	}

	if eff.FeaturedOnly {
		conds = append(conds, "ci.is_featured = TRUE")
	}

	if len(eff.IncludeCategories) > 0 {
		conds = append(conds, categoryExists(al, eff.IncludeCategories, true))
	}
	if len(eff.ExcludeCategories) > 0 {
		conds = append(conds, categoryExists(al, eff.ExcludeCategories, false))
	}
	if eff.RequestCategory != "" {
		conds = append(conds, categoryExists(al, []string{eff.RequestCategory}, true))
	}

	if len(eff.IncludeTags) > 0 {
		conds = append(conds, tagExists(al, eff.IncludeTags, true))
	}
	if len(eff.ExcludeTags) > 0 {
		conds = append(conds, tagExists(al, eff.ExcludeTags, false))
	}
	if eff.RequestTag != "" {
		conds = append(conds, tagExists(al, []string{eff.RequestTag}, true))
	}

	if len(eff.IncludeAuthors) > 0 {
		conds = append(conds, "ci.author_id IN (SELECT id FROM authors WHERE slug = ANY("+al.add(pq.Array(eff.IncludeAuthors))+"))")
	}
	if eff.RequestAuthor != "" {
		conds = append(conds, "ci.author_id IN (SELECT id FROM authors WHERE slug = "+al.add(eff.RequestAuthor)+")")
	}

	if eff.Search != "" {
		p := al.add(searchPattern(eff.Search))
		conds = append(conds, fmt.Sprintf("(ci.title ILIKE %s OR ci.excerpt ILIKE %s OR ci.body ILIKE %s)", p, p, p))
	}

	return "WHERE " + strings.Join(conds, " AND "), al.args
}

func buildList(eff Effective, where string, args []interface{}) (string, []interface{}) {
	al := &argList{args: args}

	orderCol := sortColumns[eff.SortBy]
	dir := "DESC"
	if eff.SortOrder == "asc" {
		dir = "ASC"
	}

	sql := `
		SELECT ci.id, ci.website_id, ci.title, ci.slug,
		       COALESCE(ci.excerpt, '') AS excerpt,
		       ci.body,
		       COALESCE(ci.featured_image_url, '') AS featured_image_url,
		       COALESCE(a.name, '') AS author_name,
		       ci.is_featured, ci.published_at, ci.view_count,
		       (SELECT COALESCE(array_agg(c.name ORDER BY c.name), '{}')
		          FROM content_categories cc
		          JOIN categories c ON c.id = cc.category_id
		         WHERE cc.content_id = ci.id) AS categories,
		       (SELECT COALESCE(array_agg(t.name ORDER BY t.name), '{}')
		          FROM content_tags ct
		          JOIN tags t ON t.id = ct.tag_id
		         WHERE ct.content_id = ci.id) AS tags
		FROM content_items ci
		LEFT JOIN authors a ON a.id = ci.author_id
		` + where + `
		ORDER BY ` + orderCol + ` ` + dir + `, ci.id
		LIMIT ` + al.add(eff.ItemsPerPage) + ` OFFSET ` + al.add(eff.Offset())

	return sql, al.args
}

func categoryExists(al *argList, slugs []string, include bool) string {
	prefix := ""
	if !include {
		prefix = "NOT "
	}
	return prefix + "EXISTS (SELECT 1 FROM content_categories cc JOIN categories c ON c.id = cc.category_id " +
		"WHERE cc.content_id = ci.id AND c.slug = ANY(" + al.add(pq.Array(slugs)) + "))"
}

func tagExists(al *argList, slugs []string, include bool) string {
	prefix := ""
	if !include {
		prefix = "NOT "
	}
	return prefix + "EXISTS (SELECT 1 FROM content_tags ct JOIN tags t ON t.id = ct.tag_id " +
		"WHERE ct.content_id = ci.id AND t.slug = ANY(" + al.add(pq.Array(slugs)) + "))"
}

// searchPattern escapes LIKE metacharacters so user text matches literally.
func searchPattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}
