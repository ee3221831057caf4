package gormstore

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/castplan/internal/model"
)

type groupRow struct {
	ID           string   `gorm:"primaryKey;size:64"`
	Name         *string  `gorm:"size:255"`
	UnitCount    *int
	DeliveryDate *string  `gorm:"size:32"`
	RestRate     *float64
	CastRate     *float64
	WeldRate     *float64
	ReuseRate    *float64
	CreateHours  *float64
	Design1Hours *float64 `gorm:"column:design1_hours"`
	Design2Hours *float64 `gorm:"column:design2_hours"`
	ColorCode    *string  `gorm:"size:64"`

	AllocationsGenerated bool `gorm:"not null;default:false"`
	LastGeneratedAt      *time.Time
	GenerationMarker     string `gorm:"size:64"`
}

func (groupRow) TableName() string { return "production_groups" }

func (r groupRow) record() model.GroupRecord {
	rec := model.GroupRecord{
		ID:                   r.ID,
		Name:                 r.Name,
		UnitCount:            r.UnitCount,
		DeliveryDate:         r.DeliveryDate,
		RestRate:             r.RestRate,
		CastRate:             r.CastRate,
		WeldRate:             r.WeldRate,
		ReuseRate:            r.ReuseRate,
		CreateHours:          r.CreateHours,
		Design1Hours:         r.Design1Hours,
		Design2Hours:         r.Design2Hours,
		ColorCode:            r.ColorCode,
		AllocationsGenerated: r.AllocationsGenerated,
		Marker:               r.GenerationMarker,
	}
	if r.LastGeneratedAt != nil {
		rec.LastGeneratedAt = r.LastGeneratedAt.UTC()
	}
	return rec
}

func newGroupRow(g model.GroupRecord) groupRow {
	return groupRow{
		ID:           g.ID,
		Name:         g.Name,
		UnitCount:    g.UnitCount,
		DeliveryDate: g.DeliveryDate,
		RestRate:     g.RestRate,
		CastRate:     g.CastRate,
		WeldRate:     g.WeldRate,
		ReuseRate:    g.ReuseRate,
		CreateHours:  g.CreateHours,
		Design1Hours: g.Design1Hours,
		Design2Hours: g.Design2Hours,
		ColorCode:    g.ColorCode,
	}
}

type departmentRow struct {
	ID   string `gorm:"primaryKey;size:64"`
	Name string `gorm:"size:255;not null"`
}

func (departmentRow) TableName() string { return "departments" }

type activityOptionRow struct {
	Name string `gorm:"primaryKey;size:255"`
}

func (activityOptionRow) TableName() string { return "activity_options" }

// Dates are kept as ISO day strings so both drivers round-trip them
// without time zone conversion. Hours are kept as decimal text: a fixed
// scale column would round planned hours and turn every later run into an
// update.
type allocationRow struct {
	ID               string          `gorm:"primaryKey;size:36"`
	GroupID          string          `gorm:"size:64;not null;index:idx_allocations_group_key,priority:1"`
	AllocationKey    string          `gorm:"size:255;not null;index:idx_allocations_group_key,priority:2"`
	Phase            string          `gorm:"size:16;not null"`
	DepartmentID     string          `gorm:"size:64"`
	Department       string          `gorm:"size:255;not null"`
	Activity         string          `gorm:"size:255;not null"`
	Hours            decimal.Decimal `gorm:"type:varchar(64);not null"`
	StartDate        string          `gorm:"size:10;not null"`
	EndDate          string          `gorm:"size:10;not null"`
	UnitIndex        int             `gorm:"not null"`
	GenerationMarker string          `gorm:"size:64;not null;default:''"`
	Deleted          bool            `gorm:"not null;default:false"`
}

func (allocationRow) TableName() string { return "allocations" }

type auditRow struct {
	ID               string             `gorm:"primaryKey;size:36"`
	At               time.Time          `gorm:"not null;index:idx_audit_entries_group,priority:2"`
	GroupID          string             `gorm:"size:64;not null;index:idx_audit_entries_group,priority:1"`
	Action           string             `gorm:"size:32;not null"`
	GenerationMarker string             `gorm:"size:64;not null"`
	Details          model.AuditDetails `gorm:"serializer:json;type:text"`
	CreatedIDs       []string           `gorm:"column:created_ids;serializer:json;type:text"`
	UpdatedIDs       []string           `gorm:"column:updated_ids;serializer:json;type:text"`
	DeletedIDs       []string           `gorm:"column:deleted_ids;serializer:json;type:text"`
}

func (auditRow) TableName() string { return "audit_entries" }

type errorRow struct {
	ID            string    `gorm:"primaryKey;size:36"`
	At            time.Time `gorm:"not null"`
	SourceGroupID *string   `gorm:"size:64;index"`
	SourceText    *string   `gorm:"size:255"`
	Message       string    `gorm:"type:text;not null"`
	Details       string    `gorm:"type:text"`
}

func (errorRow) TableName() string { return "error_entries" }
