package source

import (
	"fmt"
	"strings"
)

// Columns maps the posts table of a relational source.
type Columns struct {
	Table     string
	ID        string
	Title     string
	Excerpt   string
	Body      string
	Status    string
	Published string
}

// DefaultColumns matches a conventional posts table.
func DefaultColumns() Columns {
	return Columns{
		Table:     "posts",
		ID:        "id",
		Title:     "title",
		Excerpt:   "excerpt",
		Body:      "body",
		Status:    "status",
		Published: "published",
	}
}

func (c Columns) withDefaults() Columns {
	d := DefaultColumns()
	if c.Table == "" {
		c.Table = d.Table
	}
	if c.ID == "" {
		c.ID = d.ID
	}
	if c.Title == "" {
		c.Title = d.Title
	}
	if c.Excerpt == "" {
		c.Excerpt = d.Excerpt
	}
	if c.Body == "" {
		c.Body = d.Body
	}
	if c.Status == "" {
		c.Status = d.Status
	}
	if c.Published == "" {
		c.Published = d.Published
	}
	return c
}

// queries renders the two statements a relational source needs. quote
// escapes identifiers; ph returns the n-th (1-based) placeholder.
func (c Columns) queries(quote func(string) string, ph func(int) string, textCast string) (get, list string) {
	id := quote(c.ID) + textCast
	get = fmt.Sprintf(
		`SELECT %s, COALESCE(%s, ''), COALESCE(%s, ''), COALESCE(%s, ''), %s = %s FROM %s WHERE %s = %s`,
		id, quote(c.Title), quote(c.Excerpt), quote(c.Body), quote(c.Status), ph(1),
		quote(c.Table), id, ph(2))
	list = fmt.Sprintf(`SELECT %s FROM %s WHERE %s = %s ORDER BY 1`,
		id, quote(c.Table), quote(c.Status), ph(1))
	return get, list
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
