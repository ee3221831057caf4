package store

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/castplan/internal/model"
)

// Fixture is the seed file format: lookup tables and production groups.
type Fixture struct {
	Departments     []model.Department  `yaml:"departments"`
	ActivityOptions []string            `yaml:"activity_options"`
	Groups          []model.GroupRecord `yaml:"groups"`
}

// LoadFixture reads a seed file. Unknown keys are rejected.
func LoadFixture(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes a seed document.
func ParseFixture(data []byte) (Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return Fixture{}, fmt.Errorf("parse fixture: %w", err)
	}
	for i, g := range f.Groups {
		if g.ID == "" {
			return Fixture{}, fmt.Errorf("parse fixture: group %d has no id", i)
		}
	}
	return f, nil
}

// Seeder is a store that accepts fixture rows.
type Seeder interface {
	PutDepartment(ctx context.Context, d model.Department) error
	PutActivityOption(ctx context.Context, name string) error
	PutGroup(ctx context.Context, g model.GroupRecord) error
}

// Seed writes every row of f to dst. Existing rows are overwritten.
func Seed(ctx context.Context, dst Seeder, f Fixture) error {
	for _, d := range f.Departments {
		if err := dst.PutDepartment(ctx, d); err != nil {
			return err
		}
	}
	for _, name := range f.ActivityOptions {
		if err := dst.PutActivityOption(ctx, model.NormalizeName(name)); err != nil {
			return err
		}
	}
	for _, g := range f.Groups {
		if err := dst.PutGroup(ctx, g); err != nil {
			return err
		}
	}
	return nil
}
