package condition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/refiner/internal/platform/db"
	"github.com/ehr/refiner/internal/refiner/section"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PGRepository implements every condition repository against PostgreSQL.
type PGRepository struct{ pool *pgxpool.Pool }

// NewPGRepository creates a repository backed by pool.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository { return &PGRepository{pool: pool} }

func (r *PGRepository) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const conditionColumns = `id, display_name, snomed_codes, loinc_codes, icd10_codes, rxnorm_codes,
	child_grouper_codes, extra_codes`

func scanCondition(row pgx.Row) (*Condition, error) {
	var (
		c     Condition
		extra []byte
	)
	if err := row.Scan(&c.ID, &c.DisplayName, &c.SNOMEDCodes, &c.LOINCCodes, &c.ICD10Codes,
		&c.RxNormCodes, &c.ChildGrouperCodes, &extra); err != nil {
		return nil, err
	}
	if len(extra) > 0 {
		c.ExtraCodes = json.RawMessage(extra)
	}
	return &c, nil
}

func (r *PGRepository) queryConditions(ctx context.Context, sql string, args ...interface{}) ([]Condition, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Condition
	for rows.Next() {
		c, err := scanCondition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *PGRepository) ByTriggerCodes(ctx context.Context, codes []string) ([]Condition, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	out, err := r.queryConditions(ctx,
		`SELECT `+conditionColumns+`
		 FROM condition
		 WHERE child_grouper_codes && $1::text[] OR id = ANY($1::text[])
		 ORDER BY id`, codes)
	if err != nil {
		return nil, fmt.Errorf("conditions by trigger codes: %w", err)
	}
	return out, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (*Condition, error) {
	c, err := scanCondition(r.conn(ctx).QueryRow(ctx,
		`SELECT `+conditionColumns+` FROM condition WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("condition get: %w", err)
	}
	return c, nil
}

func (r *PGRepository) List(ctx context.Context) ([]Condition, error) {
	out, err := r.queryConditions(ctx, `SELECT `+conditionColumns+` FROM condition ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("condition list: %w", err)
	}
	return out, nil
}

func (r *PGRepository) CustomCodes(ctx context.Context, jurisdiction, conditionID string) ([]json.RawMessage, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT codes FROM custom_code
		 WHERE jurisdiction = $1 AND condition_id = $2
		 ORDER BY id`, jurisdiction, conditionID)
	if err != nil {
		return nil, fmt.Errorf("custom codes: %w", err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(raw))
	}
	return out, rows.Err()
}

func (r *PGRepository) SectionPolicies(ctx context.Context, jurisdiction string) ([]section.Policy, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT code, name, action, required, minimal
		 FROM section_policy
		 WHERE jurisdiction = $1
		 ORDER BY position, code`, jurisdiction)
	if err != nil {
		return nil, fmt.Errorf("section policies: %w", err)
	}
	defer rows.Close()

	var out []section.Policy
	for rows.Next() {
		var (
			p      section.Policy
			action string
		)
		if err := rows.Scan(&p.Code, &p.Name, &action, &p.Required, &p.Minimal); err != nil {
			return nil, err
		}
		p.Action = section.Action(action)
		out = append(out, p)
	}
	return out, rows.Err()
}
