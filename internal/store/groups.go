package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/castplan/internal/model"
)

// GetGroup reads one production group. A missing group wraps
// model.ErrNotFound.
func (s *Store) GetGroup(ctx context.Context, id string) (model.GroupRecord, error) {
	var (
		rec                                   model.GroupRecord
		name, delivery, color, lastAt, marker sql.NullString
		units                                 sql.NullInt64
		rest, cast, weld, reuse               sql.NullFloat64
		create, design1, design2              sql.NullFloat64
		generated                             int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, unit_count, delivery_date,
		       rest_rate, cast_rate, weld_rate, reuse_rate,
		       create_hours, design1_hours, design2_hours, color_code,
		       allocations_generated, last_generated_at, generation_marker
		FROM production_groups
		WHERE id = ?
	`, id).Scan(
		&rec.ID, &name, &units, &delivery,
		&rest, &cast, &weld, &reuse,
		&create, &design1, &design2, &color,
		&generated, &lastAt, &marker,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.GroupRecord{}, fmt.Errorf("get group %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.GroupRecord{}, fmt.Errorf("get group %s: %w", id, err)
	}

	rec.Name = stringPtr(name)
	rec.UnitCount = intPtr(units)
	rec.DeliveryDate = stringPtr(delivery)
	rec.RestRate = floatPtr(rest)
	rec.CastRate = floatPtr(cast)
	rec.WeldRate = floatPtr(weld)
	rec.ReuseRate = floatPtr(reuse)
	rec.CreateHours = floatPtr(create)
	rec.Design1Hours = floatPtr(design1)
	rec.Design2Hours = floatPtr(design2)
	rec.ColorCode = stringPtr(color)
	rec.AllocationsGenerated = generated != 0
	rec.Marker = marker.String
	if lastAt.Valid && lastAt.String != "" {
		if rec.LastGeneratedAt, err = parseTimestamp(lastAt.String); err != nil {
			return model.GroupRecord{}, fmt.Errorf("get group %s: %w", id, err)
		}
	}
	return rec, nil
}

// PutGroup inserts a group or replaces its input columns. The generation
// stamp of an existing group is kept.
func (s *Store) PutGroup(ctx context.Context, g model.GroupRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO production_groups
		(id, name, unit_count, delivery_date, rest_rate, cast_rate, weld_rate, reuse_rate,
		 create_hours, design1_hours, design2_hours, color_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			unit_count = excluded.unit_count,
			delivery_date = excluded.delivery_date,
			rest_rate = excluded.rest_rate,
			cast_rate = excluded.cast_rate,
			weld_rate = excluded.weld_rate,
			reuse_rate = excluded.reuse_rate,
			create_hours = excluded.create_hours,
			design1_hours = excluded.design1_hours,
			design2_hours = excluded.design2_hours,
			color_code = excluded.color_code
	`,
		g.ID,
		nullable(g.Name),
		nullable(g.UnitCount),
		nullable(g.DeliveryDate),
		nullable(g.RestRate),
		nullable(g.CastRate),
		nullable(g.WeldRate),
		nullable(g.ReuseRate),
		nullable(g.CreateHours),
		nullable(g.Design1Hours),
		nullable(g.Design2Hours),
		nullable(g.ColorCode),
	)
	if err != nil {
		return fmt.Errorf("put group %s: %w", g.ID, err)
	}
	return nil
}

// StampGroup records the generation stamp on a group.
func (s *Store) StampGroup(ctx context.Context, groupID string, stamp model.GroupStamp) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE production_groups
		SET allocations_generated = ?, last_generated_at = ?, generation_marker = ?
		WHERE id = ?
	`, boolInt(stamp.Generated), formatTimestamp(stamp.At), stamp.Marker, groupID)
	if err != nil {
		return fmt.Errorf("stamp group %s: %w", groupID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("stamp group %s: %w", groupID, model.ErrNotFound)
	}
	return nil
}
