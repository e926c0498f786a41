// Package querybuilder assembles parameterized PostgreSQL SELECT statements
// for the filtered listings of the registry and override log.
package querybuilder

import (
	"fmt"
	"strings"
)

// Operator is a SQL comparison operator.
type Operator int

const (
	Equal Operator = iota
	LessThan
	ILike
	IsNull
)

// Direction represents sort direction
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Condition is one column comparison.
type Condition struct {
	Column   string
	Operator Operator
	Value    interface{}
}

// QueryBuilder builds a SELECT with AND-joined conditions. A group added with
// WhereAny contributes one parenthesized OR clause.
type QueryBuilder struct {
	table   string
	columns []string
	groups  [][]Condition
	orderBy []string
	limit   *int
	offset  *int
}

// Select starts a SELECT query
func Select(columns ...string) *QueryBuilder {
	return &QueryBuilder{columns: columns}
}

// From sets the table
func (qb *QueryBuilder) From(table string) *QueryBuilder {
	qb.table = table
	return qb
}

// Where adds a condition joined with AND.
func (qb *QueryBuilder) Where(column string, operator Operator, value interface{}) *QueryBuilder {
	qb.groups = append(qb.groups, []Condition{{Column: column, Operator: operator, Value: value}})
	return qb
}

// WhereEqual is a convenience method for equality conditions
func (qb *QueryBuilder) WhereEqual(column string, value interface{}) *QueryBuilder {
	return qb.Where(column, Equal, value)
}

// WhereAny adds conditions joined with OR as a single AND term.
func (qb *QueryBuilder) WhereAny(conditions ...Condition) *QueryBuilder {
	if len(conditions) > 0 {
		qb.groups = append(qb.groups, conditions)
	}
	return qb
}

// OrderBy adds an ORDER BY term
func (qb *QueryBuilder) OrderBy(column string, direction Direction) *QueryBuilder {
	dir := "ASC"
	if direction == Desc {
		dir = "DESC"
	}
	qb.orderBy = append(qb.orderBy, column+" "+dir)
	return qb
}

// Limit sets the LIMIT clause
func (qb *QueryBuilder) Limit(limit int) *QueryBuilder {
	qb.limit = &limit
	return qb
}

// Offset sets the OFFSET clause
func (qb *QueryBuilder) Offset(offset int) *QueryBuilder {
	qb.offset = &offset
	return qb
}

// ToSQL generates the SQL query and parameter list
func (qb *QueryBuilder) ToSQL() (string, []interface{}, error) {
	if qb.table == "" {
		return "", nil, fmt.Errorf("table name is required for SELECT query")
	}

	var query strings.Builder
	var params []interface{}
	placeholder := func(v interface{}) string {
		params = append(params, v)
		return fmt.Sprintf("$%d", len(params))
	}

	query.WriteString("SELECT ")
	if len(qb.columns) == 0 {
		query.WriteString("*")
	} else {
		query.WriteString(strings.Join(qb.columns, ", "))
	}
	query.WriteString(" FROM ")
	query.WriteString(qb.table)

	if len(qb.groups) > 0 {
		terms := make([]string, 0, len(qb.groups))
		for _, group := range qb.groups {
			parts := make([]string, 0, len(group))
			for _, c := range group {
				part, err := c.render(placeholder)
				if err != nil {
					return "", nil, err
				}
				parts = append(parts, part)
			}
			term := strings.Join(parts, " OR ")
			if len(parts) > 1 {
				term = "(" + term + ")"
			}
			terms = append(terms, term)
		}
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(terms, " AND "))
	}

	if len(qb.orderBy) > 0 {
		query.WriteString(" ORDER BY ")
		query.WriteString(strings.Join(qb.orderBy, ", "))
	}
	if qb.limit != nil {
		query.WriteString(" LIMIT " + placeholder(*qb.limit))
	}
	if qb.offset != nil {
		query.WriteString(" OFFSET " + placeholder(*qb.offset))
	}

	return query.String(), params, nil
}

func (c Condition) render(placeholder func(interface{}) string) (string, error) {
	switch c.Operator {
	case Equal:
		return c.Column + " = " + placeholder(c.Value), nil
	case LessThan:
		return c.Column + " < " + placeholder(c.Value), nil
	case ILike:
		return c.Column + " ILIKE " + placeholder(c.Value), nil
	case IsNull:
		return c.Column + " IS NULL", nil
	}
	return "", fmt.Errorf("unsupported operator %d on %s", c.Operator, c.Column)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Contains returns an ILIKE pattern matching s anywhere, with wildcards in s
// escaped.
func Contains(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
