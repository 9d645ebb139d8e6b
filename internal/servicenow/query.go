package servicenow

import (
	"fmt"
	"strings"
	"time"
)

// ServiceNow encoded query syntax.
const (
	snAND         = "^"
	snOR          = "^OR"
	snNQ          = "^NQ"
	snIS          = "="
	snISNOT       = "!="
	snLIKE        = "LIKE"
	snSTARTSWITH  = "STARTSWITH"
	snISEMPTY     = "ISEMPTY"
	snISNOTEMPTY  = "ISNOTEMPTY"
	snGTE         = ">="
	snLTE         = "<="
	snLT          = "<"
	snGT          = ">"
	snORDERBY     = "ORDERBY"
	snORDERBYDESC = "ORDERBYDESC"
)

// QueryBuilder constructs ServiceNow encoded query strings using a fluent API.
//
// Example output: "active=true^priority<=2^ORDERBYDESCsys_updated_on"
type QueryBuilder struct {
	query strings.Builder
}

// NewQueryBuilder creates a new empty QueryBuilder.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{}
}

// ParseQuery wraps an already encoded query string, e.g. one copied from
// a list view's "Copy query".
func ParseQuery(encoded string) *QueryBuilder {
	q := &QueryBuilder{}
	if encoded = strings.TrimSpace(encoded); encoded != "" {
		q.query.WriteString(snAND + encoded)
	}
	return q
}

// sanitizeValue escapes '^' so a value cannot inject another clause.
func sanitizeValue(v string) string {
	if strings.TrimSpace(v) == "" {
		return v
	}
	return strings.ReplaceAll(v, snAND, snAND+snAND)
}

// clause appends sep+field+op+value with the value escaped.
func (q *QueryBuilder) clause(sep, field, op, value string) *QueryBuilder {
	fmt.Fprintf(&q.query, "%s%s%s%s", sep, field, op, sanitizeValue(value))
	return q
}

// Build returns the final query string, stripping the leading '^' separator.
func (q *QueryBuilder) Build() string {
	return strings.TrimLeft(q.query.String(), "^")
}

// WhereEquals adds: ^field=value
func (q *QueryBuilder) WhereEquals(field, value string) *QueryBuilder {
	return q.clause(snAND, field, snIS, value)
}

// OrWhereEquals adds: ^ORfield=value
func (q *QueryBuilder) OrWhereEquals(field, value string) *QueryBuilder {
	return q.clause(snOR, field, snIS, value)
}

// WhereNotEquals adds: ^field!=value
func (q *QueryBuilder) WhereNotEquals(field, value string) *QueryBuilder {
	return q.clause(snAND, field, snISNOT, value)
}

// WhereLike adds: ^fieldLIKEvalue
func (q *QueryBuilder) WhereLike(field, value string) *QueryBuilder {
	return q.clause(snAND, field, snLIKE, value)
}

// WhereStartsWith adds: ^fieldSTARTSWITHvalue
func (q *QueryBuilder) WhereStartsWith(field, value string) *QueryBuilder {
	return q.clause(snAND, field, snSTARTSWITH, value)
}

func (q *QueryBuilder) WhereGreaterThan(field, value string) *QueryBuilder {
	return q.clause(snAND, field, snGT, value)
}

func (q *QueryBuilder) WhereGreaterThanOrEqual(field, value string) *QueryBuilder {
	return q.clause(snAND, field, snGTE, value)
}

func (q *QueryBuilder) WhereLessThan(field, value string) *QueryBuilder {
	return q.clause(snAND, field, snLT, value)
}

func (q *QueryBuilder) WhereLessThanOrEqual(field, value string) *QueryBuilder {
	return q.clause(snAND, field, snLTE, value)
}

// WhereIsEmpty adds: ^fieldISEMPTY
func (q *QueryBuilder) WhereIsEmpty(field string) *QueryBuilder {
	return q.clause(snAND, sanitizeValue(field), snISEMPTY, "")
}

// WhereIsNotEmpty adds: ^fieldISNOTEMPTY
func (q *QueryBuilder) WhereIsNotEmpty(field string) *QueryBuilder {
	return q.clause(snAND, sanitizeValue(field), snISNOTEMPTY, "")
}

// WhereUpdatedSince adds: ^field>=javascript:gs.dateGenerate(...)
func (q *QueryBuilder) WhereUpdatedSince(field string, t time.Time) *QueryBuilder {
	return q.WhereGreaterThanOrEqual(field, ToServiceNowDateTime(t))
}

// OrderByAsc adds: ^ORDERBYfield
func (q *QueryBuilder) OrderByAsc(field string) *QueryBuilder {
	return q.clause(snAND, snORDERBY, "", field)
}

// OrderByDesc adds: ^ORDERBYDESCfield
func (q *QueryBuilder) OrderByDesc(field string) *QueryBuilder {
	return q.clause(snAND, snORDERBYDESC, "", field)
}

// Union appends another query via the ^NQ (new query / union) operator.
func (q *QueryBuilder) Union(other *QueryBuilder) *QueryBuilder {
	q.query.WriteString(snNQ)
	q.query.WriteString(other.Build())
	return q
}

// ToServiceNowDateTime formats a time.Time into the ServiceNow encoded query
// datetime format: javascript:gs.dateGenerate('2024-01-15','14:30:00')
func ToServiceNowDateTime(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("javascript:gs.dateGenerate('%s','%s')", t.Format("2006-01-02"), t.Format("15:04:05"))
}
