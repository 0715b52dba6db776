//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/panyam/authkit/storage"
)

// AutoMigrate creates or updates the tables for every auth model
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&PasswordModel{},
		&OAuthAccountModel{},
		&PasswordResetTokenModel{},
	)
}

// Adapter implements storage.Adapter using GORM
type Adapter struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Adapter {
	return &Adapter{db: db, now: time.Now}
}

func (a *Adapter) query(ctx context.Context, t table, where []storage.Where) (*gorm.DB, error) {
	cond, args, err := buildCondition(t, where)
	if err != nil {
		return nil, err
	}
	q := a.db.WithContext(ctx).Table(t.name)
	if cond != "" {
		q = q.Where(cond, args...)
	}
	return q.Order("created_at, id"), nil
}

func (a *Adapter) FindOne(ctx context.Context, model string, where []storage.Where) (storage.Record, error) {
	found, err := a.FindMany(ctx, model, where, 1, 0)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

func (a *Adapter) FindMany(ctx context.Context, model string, where []storage.Where, limit, offset int) ([]storage.Record, error) {
	t, err := lookupTable(model)
	if err != nil {
		return nil, err
	}
	q, err := a.query(ctx, t, where)
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var rows []map[string]any
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("gorm: find %s: %w", model, err)
	}
	out := make([]storage.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(t, row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (a *Adapter) Create(ctx context.Context, model string, data storage.Record) (storage.Record, error) {
	t, err := lookupTable(model)
	if err != nil {
		return nil, err
	}
	rec := data.Merge(nil)
	if rec.ID() == "" {
		rec["id"] = storage.NewID()
	}
	row := toRow(t, rec)
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = a.now()
	}
	if err := a.db.WithContext(ctx).Table(t.name).Create(row).Error; err != nil {
		return nil, fmt.Errorf("gorm: create %s: %w", model, err)
	}
	return rec, nil
}

func (a *Adapter) Update(ctx context.Context, model string, where []storage.Where, data storage.Record) (storage.Record, error) {
	t, err := lookupTable(model)
	if err != nil {
		return nil, err
	}
	current, err := a.FindOne(ctx, model, where)
	if err != nil || current == nil {
		return nil, err
	}
	merged := current.Merge(data)
	row := toRow(t, merged)
	delete(row, "id")
	if _, touchesExtra := row["extra"]; !touchesExtra {
		row["extra"] = nil
	}
	err = a.db.WithContext(ctx).Table(t.name).Where("id = ?", current.ID()).Updates(row).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: update %s: %w", model, err)
	}
	return merged, nil
}

func (a *Adapter) Delete(ctx context.Context, model string, where []storage.Where) error {
	t, err := lookupTable(model)
	if err != nil {
		return err
	}
	current, err := a.FindOne(ctx, model, where)
	if err != nil || current == nil {
		return err
	}
	if err := a.db.WithContext(ctx).Exec("DELETE FROM "+t.name+" WHERE id = ?", current.ID()).Error; err != nil {
		return fmt.Errorf("gorm: delete %s: %w", model, err)
	}
	return nil
}

// toRow maps record fields to columns. Undeclared fields go to "extra".
func toRow(t table, rec storage.Record) map[string]any {
	row := make(map[string]any, len(rec))
	extra := JSONMap{}
	for k, v := range rec {
		if col, ok := t.columns[k]; ok {
			row[col] = v
		} else {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		row["extra"] = extra
	}
	return row
}

func fromRow(t table, row map[string]any) (storage.Record, error) {
	rec := make(storage.Record, len(t.columns))
	for field, col := range t.columns {
		if v, ok := row[col]; ok && v != nil {
			rec[field] = v
		}
	}
	extra, err := decodeJSONMap(row["extra"])
	if err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, declared := t.columns[k]; !declared {
			rec[k] = v
		}
	}
	return rec, nil
}

var errExtraField = errors.New("gorm: where clauses can only reference declared columns")

// buildCondition renders where as a SQL expression. Clauses fold left to
// right and every step is parenthesized, so SQL operator precedence never
// regroups them.
func buildCondition(t table, where []storage.Where) (string, []any, error) {
	if err := storage.Validate(where); err != nil {
		return "", nil, err
	}
	var expr string
	var args []any
	for i, w := range where {
		col, ok := t.columns[w.Field]
		if !ok {
			return "", nil, fmt.Errorf("%w: %s.%s", errExtraField, t.name, w.Field)
		}
		clause, clauseArgs := renderClause(col, w)
		args = append(args, clauseArgs...)
		if i == 0 {
			expr = clause
			continue
		}
		expr = "(" + expr + " " + string(w.Conn()) + " " + clause + ")"
	}
	return expr, args, nil
}

func renderClause(col string, w storage.Where) (string, []any) {
	switch w.Op() {
	case storage.OpEq:
		if w.Value == nil {
			return col + " IS NULL", nil
		}
		return col + " = ?", []any{w.Value}
	case storage.OpNe:
		if w.Value == nil {
			return col + " IS NOT NULL", nil
		}
		return "(" + col + " <> ? OR " + col + " IS NULL)", []any{w.Value}
	case storage.OpIn:
		return col + " IN ?", []any{w.Value}
	case storage.OpContains:
		return col + " LIKE ?", []any{"%" + escapeLike(fmt.Sprint(w.Value)) + "%"}
	case storage.OpGt:
		return col + " > ?", []any{w.Value}
	case storage.OpGte:
		return col + " >= ?", []any{w.Value}
	case storage.OpLt:
		return col + " < ?", []any{w.Value}
	default:
		return col + " <= ?", []any{w.Value}
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
