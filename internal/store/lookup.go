package store

import (
	"context"
	"fmt"

	"github.com/roach88/castplan/internal/model"
)

// Departments returns the department lookup table ordered by name.
// Returns an empty slice (not nil) when the table is empty.
func (s *Store) Departments(ctx context.Context) ([]model.Department, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name FROM departments ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query departments: %w", err)
	}
	defer rows.Close()

	depts := []model.Department{}
	for rows.Next() {
		var d model.Department
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		depts = append(depts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate departments: %w", err)
	}
	return depts, nil
}

// PutDepartment inserts a department or renames an existing one.
func (s *Store) PutDepartment(ctx context.Context, d model.Department) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO departments (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, d.ID, d.Name)
	if err != nil {
		return fmt.Errorf("put department %s: %w", d.ID, err)
	}
	return nil
}

// ActivityOptions returns the allowed activity labels, sorted.
func (s *Store) ActivityOptions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM activity_options ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query activity options: %w", err)
	}
	defer rows.Close()

	opts := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan activity option: %w", err)
		}
		opts = append(opts, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity options: %w", err)
	}
	return opts, nil
}

// PutActivityOption adds an activity label. Existing labels are left alone.
func (s *Store) PutActivityOption(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_options (name) VALUES (?)
		ON CONFLICT(name) DO NOTHING
	`, name)
	if err != nil {
		return fmt.Errorf("put activity option %q: %w", name, err)
	}
	return nil
}
