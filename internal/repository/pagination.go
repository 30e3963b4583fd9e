package repository

import "strings"

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// normalizePage clamps paging input to sane bounds.
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}
	return page, pageSize
}

// sortClause builds an ORDER BY fragment from untrusted sort input. Columns
// outside the allow list fall back to created_at, direction defaults to
// DESC.
func sortClause(sortBy, sortOrder string, allowed map[string]bool) string {
	if !allowed[sortBy] {
		sortBy = "created_at"
	}
	dir := strings.ToUpper(sortOrder)
	if dir != "ASC" && dir != "DESC" {
		dir = "DESC"
	}
	return sortBy + " " + dir
}
