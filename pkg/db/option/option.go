// Package option holds composable gorm query modifiers used by the generic
// repository.
package option

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kitchenbill/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type QueryOptionFunc func(db *gorm.DB) *gorm.DB

func (f QueryOptionFunc) Apply(db *gorm.DB) *gorm.DB {
	return f(db)
}

type Operator string

const (
	EQ      Operator = "eq"
	NEQ     Operator = "neq"
	GT      Operator = "gt"
	GTE     Operator = "gte"
	LT      Operator = "lt"
	LTE     Operator = "lte"
	IN      Operator = "in"
	ISNULL  Operator = "is_null"
	NOTNULL Operator = "not_null"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

func ApplyOperator(c Condition) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		col := clause.Column{Name: c.Field}
		switch c.Operator {
		case EQ:
			return db.Where(clause.Eq{Column: col, Value: c.Value})
		case NEQ:
			return db.Where(clause.Neq{Column: col, Value: c.Value})
		case GT:
			return db.Where(clause.Gt{Column: col, Value: c.Value})
		case GTE:
			return db.Where(clause.Gte{Column: col, Value: c.Value})
		case LT:
			return db.Where(clause.Lt{Column: col, Value: c.Value})
		case LTE:
			return db.Where(clause.Lte{Column: col, Value: c.Value})
		case IN:
			values, ok := c.Value.([]any)
			if !ok {
				values = []any{c.Value}
			}
			return db.Where(clause.IN{Column: col, Values: values})
		case ISNULL:
			return db.Where(clause.Eq{Column: col, Value: nil})
		case NOTNULL:
			return db.Where(clause.Neq{Column: col, Value: nil})
		default:
			return db
		}
	})
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

func WithQuerySortBy(sortBy, orderBy string, allow map[string]bool) QuerySortBy {
	return QuerySortBy{SortBy: sortBy, OrderBy: orderBy, Allow: allow}
}

// WithSortBy orders by an allowed column, defaulting to created_at desc.
// Unknown columns fall back to the default.
func WithSortBy(q QuerySortBy) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		column := strings.ToLower(strings.TrimSpace(q.SortBy))
		if column == "" || !q.Allow[column] {
			column = "created_at"
		}
		desc := !strings.EqualFold(strings.TrimSpace(q.OrderBy), "asc")
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc}).
			Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: desc})
	})
}

func WithLimit(limit int) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	})
}

// ApplyPagination pages by id. One extra row is fetched so callers can tell
// whether more rows follow.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		size := page.PageSize
		if size <= 0 {
			size = 10
		}
		if token := strings.TrimSpace(page.PageToken); token != "" {
			if cursor, err := pagination.DecodeCursor(token); err == nil && cursor.ID != "" {
				if id, err := snowflake.ParseString(cursor.ID); err == nil {
					db = db.Where(clause.Lt{Column: clause.Column{Name: "id"}, Value: int64(id)})
				}
			}
		}
		return db.Order("id desc").Limit(size + 1)
	})
}

func formatID(id snowflake.ID) string {
	return strconv.FormatInt(int64(id), 10)
}

// NextCursor returns the page token that continues after id.
func NextCursor(id snowflake.ID) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{ID: formatID(id)})
	if err != nil {
		return ""
	}
	return token
}
