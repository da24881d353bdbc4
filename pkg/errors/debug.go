package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Diagnostics is the log-only view of an error. It never reaches clients.
type Diagnostics struct {
	Code  Code
	Chain []string

	// Postgres fields, set when a driver error is in the chain.
	PGCode       string
	PGConstraint string
	PGTable      string
	PGDetail     string
}

// Diagnose walks err's chain and extracts the driver details of the first
// Postgres error it finds, from either pgx or lib/pq.
func Diagnose(err error) Diagnostics {
	var d Diagnostics
	if err == nil {
		return d
	}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T", e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case stdErrors.As(err, &pgxErr):
		d.PGCode, d.PGConstraint, d.PGTable, d.PGDetail = pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.Detail
	case stdErrors.As(err, &pqErr):
		d.PGCode, d.PGConstraint, d.PGTable, d.PGDetail = string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Detail
	}
	return d
}

// Fields flattens the diagnostics into structured log fields, omitting
// empty values.
func (d Diagnostics) Fields() map[string]any {
	fields := map[string]any{"error_chain": d.Chain}
	add := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	add("error_code", string(d.Code))
	add("pg_code", d.PGCode)
	add("pg_constraint", d.PGConstraint)
	add("pg_table", d.PGTable)
	add("pg_detail", d.PGDetail)
	return fields
}
