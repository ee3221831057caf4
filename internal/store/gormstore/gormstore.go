// Package gormstore is the MySQL record store. It implements the same
// contract as the SQLite store on top of gorm, so it also runs against
// any other gorm dialector.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/roach88/castplan/internal/calendar"
	"github.com/roach88/castplan/internal/logging"
	"github.com/roach88/castplan/internal/model"
)

// Store is a gorm-backed record store.
type Store struct {
	db    *gorm.DB
	newID func() string
}

// OpenMySQL connects to MySQL. The DSN should set parseTime=true.
func OpenMySQL(dsn string, log logrus.FieldLogger) (*Store, error) {
	return Open(mysql.Open(dsn), log)
}

// Open connects through dialector and migrates the tables.
func Open(dialector gorm.Dialector, log logrus.FieldLogger) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.AutoMigrate(
		&groupRow{},
		&departmentRow{},
		&activityOptionRow{},
		&allocationRow{},
		&auditRow{},
		&errorRow{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db, newID: newUUIDv7}, nil
}

func newLogger(log logrus.FieldLogger) logger.Interface {
	return logger.New(logging.OrDiscard(log), logger.Config{
		LogLevel:                  logger.Error,
		SlowThreshold:             time.Second,
		IgnoreRecordNotFoundError: true,
	})
}

func newUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetGroup reads one production group. A missing group wraps
// model.ErrNotFound.
func (s *Store) GetGroup(ctx context.Context, id string) (model.GroupRecord, error) {
	var row groupRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.GroupRecord{}, fmt.Errorf("get group %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.GroupRecord{}, fmt.Errorf("get group %s: %w", id, err)
	}
	return row.record(), nil
}

// PutGroup inserts a group or replaces its input columns.
func (s *Store) PutGroup(ctx context.Context, g model.GroupRecord) error {
	row := newGroupRow(g)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "unit_count", "delivery_date",
			"rest_rate", "cast_rate", "weld_rate", "reuse_rate",
			"create_hours", "design1_hours", "design2_hours", "color_code",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("put group %s: %w", g.ID, err)
	}
	return nil
}

// StampGroup records the generation stamp on a group.
func (s *Store) StampGroup(ctx context.Context, groupID string, stamp model.GroupStamp) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireIDs(tx, &groupRow{}, []string{groupID}); err != nil {
			return fmt.Errorf("stamp group %s: %w", groupID, err)
		}
		at := stamp.At.UTC()
		err := tx.Model(&groupRow{}).Where("id = ?", groupID).Updates(map[string]any{
			"allocations_generated": stamp.Generated,
			"last_generated_at":     &at,
			"generation_marker":     stamp.Marker,
		}).Error
		if err != nil {
			return fmt.Errorf("stamp group %s: %w", groupID, err)
		}
		return nil
	})
}

// Departments returns the department lookup table ordered by name.
func (s *Store) Departments(ctx context.Context) ([]model.Department, error) {
	var rows []departmentRow
	if err := s.db.WithContext(ctx).Order("name, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query departments: %w", err)
	}
	out := make([]model.Department, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Department{ID: r.ID, Name: r.Name})
	}
	return out, nil
}

// PutDepartment inserts a department or renames an existing one.
func (s *Store) PutDepartment(ctx context.Context, d model.Department) error {
	row := departmentRow{ID: d.ID, Name: d.Name}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("put department %s: %w", d.ID, err)
	}
	return nil
}

// ActivityOptions returns the allowed activity labels, sorted.
func (s *Store) ActivityOptions(ctx context.Context) ([]string, error) {
	out := []string{}
	if err := s.db.WithContext(ctx).Model(&activityOptionRow{}).Order("name").Pluck("name", &out).Error; err != nil {
		return nil, fmt.Errorf("query activity options: %w", err)
	}
	return out, nil
}

// PutActivityOption adds an activity label.
func (s *Store) PutActivityOption(ctx context.Context, name string) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&activityOptionRow{Name: name}).Error
	if err != nil {
		return fmt.Errorf("put activity option %q: %w", name, err)
	}
	return nil
}

// QueryAllocations returns every stored allocation of groupID, deleted ones
// included, ordered by ID.
func (s *Store) QueryAllocations(ctx context.Context, groupID string) ([]model.StoredAllocation, error) {
	var rows []allocationRow
	if err := s.db.WithContext(ctx).Where("group_id = ?", groupID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query allocations: %w", err)
	}
	out := make([]model.StoredAllocation, 0, len(rows))
	for _, r := range rows {
		a, err := r.stored()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r allocationRow) stored() (model.StoredAllocation, error) {
	start, err := calendar.Parse(r.StartDate)
	if err != nil {
		return model.StoredAllocation{}, fmt.Errorf("allocation %s: %w", r.ID, err)
	}
	end, err := calendar.Parse(r.EndDate)
	if err != nil {
		return model.StoredAllocation{}, fmt.Errorf("allocation %s: %w", r.ID, err)
	}
	return model.StoredAllocation{
		ID:      r.ID,
		Marker:  r.GenerationMarker,
		Deleted: r.Deleted,
		Allocation: model.Allocation{
			Key:          r.AllocationKey,
			GroupID:      r.GroupID,
			Phase:        model.Phase(r.Phase),
			DepartmentID: r.DepartmentID,
			Department:   r.Department,
			Activity:     r.Activity,
			Hours:        r.Hours,
			Start:        start,
			End:          end,
			UnitIndex:    r.UnitIndex,
		},
	}, nil
}

func allocationColumns(a model.Allocation) map[string]any {
	return map[string]any{
		"allocation_key": a.Key,
		"phase":          string(a.Phase),
		"department_id":  a.DepartmentID,
		"department":     a.Department,
		"activity":       a.Activity,
		"hours":          a.Hours,
		"start_date":     calendar.Format(a.Start),
		"end_date":       calendar.Format(a.End),
		"unit_index":     a.UnitIndex,
	}
}

// CreateAllocations inserts allocs under marker in one transaction and
// returns the new IDs in input order.
func (s *Store) CreateAllocations(ctx context.Context, allocs []model.Allocation, marker string) ([]string, error) {
	if len(allocs) == 0 {
		return []string{}, nil
	}
	rows := make([]allocationRow, 0, len(allocs))
	ids := make([]string, 0, len(allocs))
	for _, a := range allocs {
		id := s.newID()
		ids = append(ids, id)
		rows = append(rows, allocationRow{
			ID:               id,
			GroupID:          a.GroupID,
			AllocationKey:    a.Key,
			Phase:            string(a.Phase),
			DepartmentID:     a.DepartmentID,
			Department:       a.Department,
			Activity:         a.Activity,
			Hours:            a.Hours,
			StartDate:        calendar.Format(a.Start),
			EndDate:          calendar.Format(a.End),
			UnitIndex:        a.UnitIndex,
			GenerationMarker: marker,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		groups := distinctGroups(allocs)
		if err := requireIDs(tx, &groupRow{}, groups); err != nil {
			return fmt.Errorf("insert allocations: %w", err)
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert allocations: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// UpdateAllocations applies patches in one transaction. A patch naming an
// unknown ID fails the whole batch with model.ErrNotFound.
func (s *Store) UpdateAllocations(ctx context.Context, patches []model.Patch) error {
	if len(patches) == 0 {
		return nil
	}
	ids := make([]string, 0, len(patches))
	for _, p := range patches {
		ids = append(ids, p.ID)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireIDs(tx, &allocationRow{}, ids); err != nil {
			return fmt.Errorf("update allocations: %w", err)
		}
		for _, p := range patches {
			cols, err := patchColumns(p)
			if err != nil {
				return fmt.Errorf("%s allocation %s: %w", p.Op, p.ID, err)
			}
			if err := tx.Model(&allocationRow{}).Where("id = ?", p.ID).Updates(cols).Error; err != nil {
				return fmt.Errorf("%s allocation %s: %w", p.Op, p.ID, err)
			}
		}
		return nil
	})
}

func patchColumns(p model.Patch) (map[string]any, error) {
	switch p.Op {
	case model.OpUpdate:
		if p.Fields == nil {
			return nil, fmt.Errorf("update patch without fields")
		}
		cols := allocationColumns(*p.Fields)
		cols["generation_marker"] = p.Marker
		cols["deleted"] = false
		return cols, nil
	case model.OpRefresh:
		return map[string]any{"generation_marker": p.Marker}, nil
	case model.OpSoftDelete:
		return map[string]any{"generation_marker": p.Marker, "deleted": true}, nil
	default:
		return nil, fmt.Errorf("unknown patch op %q", p.Op)
	}
}

// requireIDs fails with model.ErrNotFound unless every id exists in the
// table of m. Row counts are used instead of RowsAffected, which MySQL
// reports as zero for updates that change nothing.
func requireIDs(tx *gorm.DB, m any, ids []string) error {
	distinct := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		distinct[id] = struct{}{}
	}
	var n int64
	if err := tx.Model(m).Where("id IN ?", ids).Count(&n).Error; err != nil {
		return err
	}
	if int(n) != len(distinct) {
		return model.ErrNotFound
	}
	return nil
}

func distinctGroups(allocs []model.Allocation) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range allocs {
		if !seen[a.GroupID] {
			seen[a.GroupID] = true
			out = append(out, a.GroupID)
		}
	}
	return out
}

// AppendAudit inserts an audit entry.
func (s *Store) AppendAudit(ctx context.Context, e model.AuditEntry) error {
	row := auditRow{
		ID:               s.newID(),
		At:               e.At.UTC(),
		GroupID:          e.GroupID,
		Action:           e.Action,
		GenerationMarker: e.Marker,
		Details:          e.Details,
		CreatedIDs:       nonNil(e.CreatedIDs),
		UpdatedIDs:       nonNil(e.UpdatedIDs),
		DeletedIDs:       nonNil(e.DeletedIDs),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// AppendError inserts an error entry. Unless SourceAsText is set the entry
// links to its group, and an unknown group is rejected.
func (s *Store) AppendError(ctx context.Context, e model.ErrorEntry) error {
	groupID := e.GroupID
	row := errorRow{
		ID:      s.newID(),
		At:      e.At.UTC(),
		Message: e.Message,
		Details: e.Details,
	}
	if e.SourceAsText {
		row.SourceText = &groupID
	} else {
		row.SourceGroupID = &groupID
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !e.SourceAsText {
			if err := requireIDs(tx, &groupRow{}, []string{groupID}); err != nil {
				return fmt.Errorf("insert error entry: group %s: %w", groupID, err)
			}
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert error entry: %w", err)
		}
		return nil
	})
}

// ListAudit returns up to limit audit entries of groupID, newest first.
// A limit of zero or less returns every entry.
func (s *Store) ListAudit(ctx context.Context, groupID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []auditRow
	err := s.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	out := make([]model.AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.AuditEntry{
			ID:         r.ID,
			At:         r.At.UTC(),
			GroupID:    r.GroupID,
			Action:     r.Action,
			Marker:     r.GenerationMarker,
			Details:    r.Details,
			CreatedIDs: nonNil(r.CreatedIDs),
			UpdatedIDs: nonNil(r.UpdatedIDs),
			DeletedIDs: nonNil(r.DeletedIDs),
		})
	}
	return out, nil
}

// ListErrors returns the error entries that reference groupID, oldest first.
func (s *Store) ListErrors(ctx context.Context, groupID string) ([]model.ErrorEntry, error) {
	var rows []errorRow
	err := s.db.WithContext(ctx).
		Where("source_group_id = ? OR source_text = ?", groupID, groupID).
		Order("at, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query error entries: %w", err)
	}
	out := make([]model.ErrorEntry, 0, len(rows))
	for _, r := range rows {
		e := model.ErrorEntry{ID: r.ID, At: r.At.UTC(), Message: r.Message, Details: r.Details}
		if r.SourceGroupID != nil {
			e.GroupID = *r.SourceGroupID
		} else if r.SourceText != nil {
			e.GroupID = *r.SourceText
			e.SourceAsText = true
		}
		out = append(out, e)
	}
	return out, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
