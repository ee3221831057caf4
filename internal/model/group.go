package model

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/shopspring/decimal"

	"github.com/roach88/castplan/internal/calendar"
)

// ErrNotFound is returned by stores when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// GroupRecord is a production group as read from the store. Every input is
// nullable because the store does not enforce presence; ValidateGroup turns
// it into GroupInputs.
//
// The field tag carries the store column name so validation errors name the
// column an operator has to fill in. The yaml tags serve seed fixtures.
type GroupRecord struct {
	ID           string   `yaml:"id"`
	Name         *string  `yaml:"name" field:"name" validate:"required,notblank"`
	UnitCount    *int     `yaml:"unit_count" field:"unit_count" validate:"required,gt=0"`
	DeliveryDate *string  `yaml:"delivery_date" field:"delivery_date" validate:"required,isodate"`
	RestRate     *float64 `yaml:"rest_rate" field:"rest_rate" validate:"required,gte=0"`
	CastRate     *float64 `yaml:"cast_rate" field:"cast_rate" validate:"required,gte=0"`
	WeldRate     *float64 `yaml:"weld_rate" field:"weld_rate" validate:"required,gte=0"`
	ReuseRate    *float64 `yaml:"reuse_rate" field:"reuse_rate" validate:"required,gte=0"`
	CreateHours  *float64 `yaml:"create_hours" field:"create_hours" validate:"required,gte=0"`
	Design1Hours *float64 `yaml:"design1_hours" field:"design1_hours" validate:"required,gte=0"`
	Design2Hours *float64 `yaml:"design2_hours" field:"design2_hours" validate:"required,gte=0"`
	ColorCode    *string  `yaml:"color_code" field:"color_code"`

	AllocationsGenerated bool      `yaml:"-"`
	LastGeneratedAt      time.Time `yaml:"-"`
	Marker               string    `yaml:"-"`
}

// GroupInputs are the validated scheduling inputs of one production group.
type GroupInputs struct {
	GroupID      string
	Name         string
	UnitCount    int
	DeliveryDate time.Time

	RestRate  decimal.Decimal
	CastRate  decimal.Decimal
	WeldRate  decimal.Decimal
	ReuseRate decimal.Decimal

	CreateHours  decimal.Decimal
	Design1Hours decimal.Decimal
	Design2Hours decimal.Decimal

	// ExcludeExtraWeekday selects the calendar that also skips the
	// configured extra weekday for shop-floor phases.
	ExcludeExtraWeekday bool
}

// GroupStamp is written onto a production group when a run starts and again
// when it finishes.
type GroupStamp struct {
	Generated bool
	At        time.Time
	Marker    string
}

// FieldError lists every missing or invalid group field found in one pass.
type FieldError struct {
	GroupID string
	Fields  []string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("missing/invalid on group %s: %s", e.GroupID, strings.Join(e.Fields, ", "))
}

var groupValidator = newGroupValidator()

func newGroupValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("field"); name != "" {
			return name
		}
		return fld.Name
	})
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		_, err := calendar.Parse(fl.Field().String())
		return err == nil
	})
	return v
}

// ValidateGroup checks every scheduling input of rec at once and converts the
// record into GroupInputs. The extra-weekday flag is set when the colour code
// ends with suffix (case-insensitive); an empty suffix never matches.
func ValidateGroup(rec GroupRecord, suffix string) (GroupInputs, error) {
	if err := groupValidator.Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return GroupInputs{}, fmt.Errorf("validate group %s: %w", rec.ID, err)
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return GroupInputs{}, &FieldError{GroupID: rec.ID, Fields: fields}
	}

	delivery, _ := calendar.Parse(*rec.DeliveryDate)

	in := GroupInputs{
		GroupID:      rec.ID,
		Name:         strings.TrimSpace(*rec.Name),
		UnitCount:    *rec.UnitCount,
		DeliveryDate: delivery,
		RestRate:     decimal.NewFromFloat(*rec.RestRate),
		CastRate:     decimal.NewFromFloat(*rec.CastRate),
		WeldRate:     decimal.NewFromFloat(*rec.WeldRate),
		ReuseRate:    decimal.NewFromFloat(*rec.ReuseRate),
		CreateHours:  decimal.NewFromFloat(*rec.CreateHours),
		Design1Hours: decimal.NewFromFloat(*rec.Design1Hours),
		Design2Hours: decimal.NewFromFloat(*rec.Design2Hours),
	}
	if rec.ColorCode != nil && suffix != "" {
		in.ExcludeExtraWeekday = strings.HasSuffix(
			strings.ToUpper(strings.TrimSpace(*rec.ColorCode)),
			strings.ToUpper(suffix),
		)
	}
	return in, nil
}
