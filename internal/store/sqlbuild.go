package store

import (
	"fmt"
	"math"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"navload/internal/sqlutil"
)

// Dialect carries the quoting and placeholder rules of one SQL engine.
type Dialect struct {
	Name        string
	Placeholder sq.PlaceholderFormat
	Quote       func(string) string
}

var (
	MySQL    = Dialect{Name: "mysql", Placeholder: sq.Question, Quote: sqlutil.QuoteIdentifier}
	Postgres = Dialect{Name: "postgres", Placeholder: sq.Dollar, Quote: sqlutil.QuoteANSIIdentifier}
	SQLite   = Dialect{Name: "sqlite", Placeholder: sq.Question, Quote: sqlutil.QuoteIdentifier}
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "mysql", "tidb":
		return MySQL, nil
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("store: unsupported driver %q", driver)
	}
}

// SQLQuery is a rendered statement.
type SQLQuery struct {
	SQL  string
	Args []any
}

// Build renders q. Row columns are laid out scope by scope: every column of
// the base type in declaration order, then every column of each joined type.
func (d Dialect) Build(q Query) (SQLQuery, error) {
	if err := q.Validate(); err != nil {
		return SQLQuery{}, err
	}
	builder, err := d.selectBuilder(q, 0)
	if err != nil {
		return SQLQuery{}, err
	}
	query, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	query, err = d.Placeholder.ReplacePlaceholders(query)
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

func scopeAlias(depth, scope int) string {
	base := "t"
	if depth > 0 {
		base = fmt.Sprintf("s%d", depth)
	}
	if scope == 0 {
		return base
	}
	return fmt.Sprintf("%s_j%d", base, scope)
}

func (d Dialect) col(alias, column string) string {
	return sqlutil.QualifiedIdentifier(d.Quote, alias, column)
}

func (d Dialect) selectBuilder(q Query, depth int) (sq.SelectBuilder, error) {
	alias := scopeAlias(depth, 0)

	var columns []string
	if q.project != "" {
		columns = []string{d.col(alias, q.project)}
	} else {
		for scope := 0; scope <= len(q.joins); scope++ {
			scopeAs := scopeAlias(depth, scope)
			for _, name := range q.ScopeType(scope).Columns() {
				columns = append(columns, d.col(scopeAs, name))
			}
		}
	}

	builder := sq.Select(columns...).
		From(d.Quote(q.typ.Table()) + " AS " + d.Quote(alias))
	if q.distinct {
		builder = builder.Distinct()
	}

	for i, j := range q.joins {
		joinAs := scopeAlias(depth, i+1)
		parentAs := scopeAlias(depth, j.Parent)
		builder = builder.LeftJoin(fmt.Sprintf("%s AS %s ON %s = %s",
			d.Quote(j.Rel.Related.Table()), d.Quote(joinAs),
			d.col(joinAs, j.Rel.RelatedColumn()), d.col(parentAs, j.Rel.OwnerColumn()),
		))
	}

	for _, f := range q.filters {
		pred, err := d.predicate(f, alias, depth)
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		builder = builder.Where(pred)
	}

	for _, o := range q.orders {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		builder = builder.OrderBy(d.col(alias, o.Column) + " " + dir)
	}

	if q.hasLimit {
		builder = builder.Limit(q.limit)
	}
	if q.offset > 0 {
		if !q.hasLimit && d.Name != Postgres.Name {
			// MySQL and SQLite only accept OFFSET after LIMIT.
			builder = builder.Limit(math.MaxInt64)
		}
		builder = builder.Offset(q.offset)
	}
	return builder, nil
}

func (d Dialect) predicate(f FilterSpec, alias string, depth int) (sq.Sqlizer, error) {
	column := d.col(alias, f.Column)
	switch f.Kind {
	case FilterEq:
		return sq.Eq{column: f.Value}, nil
	case FilterIn:
		return sq.Eq{column: f.Values}, nil
	case FilterNotNull:
		return sq.NotEq{column: nil}, nil
	case FilterCompare:
		switch f.Op {
		case "<":
			return sq.Lt{column: f.Value}, nil
		case "<=":
			return sq.LtOrEq{column: f.Value}, nil
		case ">":
			return sq.Gt{column: f.Value}, nil
		case ">=":
			return sq.GtOrEq{column: f.Value}, nil
		case "<>":
			return sq.NotEq{column: f.Value}, nil
		case "LIKE":
			return sq.Like{column: f.Value}, nil
		}
		return nil, fmt.Errorf("store: unsupported comparison %q", f.Op)
	case FilterInSubquery:
		sub := f.Sub.WithoutJoins()
		subBuilder, err := d.selectBuilder(sub, depth+1)
		if err != nil {
			return nil, err
		}
		subSQL, subArgs, err := subBuilder.PlaceholderFormat(sq.Question).ToSql()
		if err != nil {
			return nil, err
		}
		if d.Name == MySQL.Name && sub.HasCap() {
			// MySQL rejects LIMIT inside IN (...); a derived table is accepted.
			subSQL = fmt.Sprintf("SELECT * FROM (%s) AS %s", subSQL, d.Quote(scopeAlias(depth+1, 0)+"_capped"))
		}
		return sq.Expr(column+" IN ("+subSQL+")", subArgs...), nil
	default:
		return nil, fmt.Errorf("store: unknown filter kind %d", f.Kind)
	}
}
