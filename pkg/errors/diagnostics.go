package errors

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Diagnostics pulls driver-level detail out of an error chain so a failed
// statement can be traced to its constraint without parsing messages.
type Diagnostics struct {
	Code       Code
	Details    any
	Depth      int
	SQLState   string
	Constraint string
	Table      string
	Column     string
	Detail     string
	SQLiteCode int
}

func Diagnose(err error) Diagnostics {
	var d Diagnostics
	if err == nil {
		return d
	}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
		if MetadataFor(d.Code).DetailsAllowed {
			d.Details = typed.Details()
		}
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Depth++
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	var liteErr sqlite3.Error
	switch {
	case errors.As(err, &pgxErr):
		d.SQLState, d.Constraint, d.Table, d.Column, d.Detail = pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.ColumnName, pgxErr.Detail
	case errors.As(err, &pqErr):
		d.SQLState, d.Constraint, d.Table, d.Column, d.Detail = string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Column, pqErr.Detail
	case errors.As(err, &liteErr):
		d.SQLiteCode = int(liteErr.ExtendedCode)
	}
	return d
}

// Fields returns only the populated driver fields, keyed for structured logs.
func (d Diagnostics) Fields() map[string]any {
	fields := map[string]any{}
	for key, value := range map[string]string{
		"sql_state":     d.SQLState,
		"db_constraint": d.Constraint,
		"db_table":      d.Table,
		"db_column":     d.Column,
		"db_detail":     d.Detail,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	if d.SQLiteCode != 0 {
		fields["sqlite_code"] = d.SQLiteCode
	}
	if d.Details != nil {
		fields["error_details"] = d.Details
	}
	return fields
}
