package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/castplan/internal/calendar"
	"github.com/roach88/castplan/internal/model"
)

// QueryAllocations returns every stored allocation of groupID, deleted ones
// included, ordered by ID. Returns an empty slice (not nil) when none exist.
func (s *Store) QueryAllocations(ctx context.Context, groupID string) ([]model.StoredAllocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, allocation_key, phase, department_id, department, activity,
		       hours, start_date, end_date, unit_index, generation_marker, deleted
		FROM allocations
		WHERE group_id = ?
		ORDER BY id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query allocations: %w", err)
	}
	defer rows.Close()

	out := []model.StoredAllocation{}
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allocations: %w", err)
	}
	return out, nil
}

func scanAllocation(rows *sql.Rows) (model.StoredAllocation, error) {
	var (
		a                 model.StoredAllocation
		deptID            sql.NullString
		phase             string
		hours, start, end string
		deleted           int
	)
	err := rows.Scan(
		&a.ID, &a.GroupID, &a.Key, &phase, &deptID, &a.Department, &a.Activity,
		&hours, &start, &end, &a.UnitIndex, &a.Marker, &deleted,
	)
	if err != nil {
		return model.StoredAllocation{}, fmt.Errorf("scan allocation: %w", err)
	}
	a.Phase = model.Phase(phase)
	a.DepartmentID = deptID.String
	a.Deleted = deleted != 0
	if a.Hours, err = parseHours(hours); err != nil {
		return model.StoredAllocation{}, fmt.Errorf("allocation %s: %w", a.ID, err)
	}
	if a.Start, err = parseDay(start); err != nil {
		return model.StoredAllocation{}, fmt.Errorf("allocation %s: %w", a.ID, err)
	}
	if a.End, err = parseDay(end); err != nil {
		return model.StoredAllocation{}, fmt.Errorf("allocation %s: %w", a.ID, err)
	}
	return a, nil
}

// CreateAllocations inserts allocs under marker in one transaction and
// returns the new IDs in input order.
func (s *Store) CreateAllocations(ctx context.Context, allocs []model.Allocation, marker string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO allocations
		(id, group_id, allocation_key, phase, department_id, department, activity,
		 hours, start_date, end_date, unit_index, generation_marker, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]string, 0, len(allocs))
	for _, a := range allocs {
		id := s.newID()
		_, err := stmt.ExecContext(ctx,
			id, a.GroupID, a.Key, string(a.Phase), nullString(a.DepartmentID), a.Department, a.Activity,
			a.Hours.String(), calendar.Format(a.Start), calendar.Format(a.End), a.UnitIndex, marker,
		)
		if err != nil {
			return nil, fmt.Errorf("insert allocation %s: %w", a.Key, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return ids, nil
}

// UpdateAllocations applies patches in one transaction. A patch naming an
// unknown ID fails the whole batch with model.ErrNotFound.
func (s *Store) UpdateAllocations(ctx context.Context, patches []model.Patch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range patches {
		res, err := execPatch(ctx, tx, p)
		if err != nil {
			return fmt.Errorf("%s allocation %s: %w", p.Op, p.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%s allocation %s: %w", p.Op, p.ID, err)
		}
		if n != 1 {
			return fmt.Errorf("%s allocation %s: %w", p.Op, p.ID, model.ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func execPatch(ctx context.Context, tx *sql.Tx, p model.Patch) (sql.Result, error) {
	switch p.Op {
	case model.OpUpdate:
		if p.Fields == nil {
			return nil, fmt.Errorf("update patch without fields")
		}
		f := p.Fields
		return tx.ExecContext(ctx, `
			UPDATE allocations
			SET allocation_key = ?, phase = ?, department_id = ?, department = ?, activity = ?,
			    hours = ?, start_date = ?, end_date = ?, unit_index = ?,
			    generation_marker = ?, deleted = 0
			WHERE id = ?
		`,
			f.Key, string(f.Phase), nullString(f.DepartmentID), f.Department, f.Activity,
			f.Hours.String(), calendar.Format(f.Start), calendar.Format(f.End), f.UnitIndex,
			p.Marker, p.ID,
		)
	case model.OpRefresh:
		return tx.ExecContext(ctx, `
			UPDATE allocations SET generation_marker = ? WHERE id = ?
		`, p.Marker, p.ID)
	case model.OpSoftDelete:
		return tx.ExecContext(ctx, `
			UPDATE allocations SET generation_marker = ?, deleted = 1 WHERE id = ?
		`, p.Marker, p.ID)
	default:
		return nil, fmt.Errorf("unknown patch op %q", p.Op)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
