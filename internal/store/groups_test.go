package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/castplan/internal/model"
)

func TestGroup_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	want := createTestGroup(t, s, "grp-1")

	got, err := s.GetGroup(ctx, "grp-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGroup_NullColumnsStayNil(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutGroup(ctx, model.GroupRecord{ID: "grp-empty"}))

	got, err := s.GetGroup(ctx, "grp-empty")
	require.NoError(t, err)
	assert.Nil(t, got.Name)
	assert.Nil(t, got.UnitCount)
	assert.Nil(t, got.DeliveryDate)
	assert.Nil(t, got.ReuseRate)
	assert.Nil(t, got.ColorCode)
	assert.False(t, got.AllocationsGenerated)
	assert.True(t, got.LastGeneratedAt.IsZero())
}

func TestGroup_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetGroup(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGroup_Stamp(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestGroup(t, s, "grp-1")

	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.StampGroup(ctx, "grp-1", model.GroupStamp{Generated: true, At: at, Marker: "gen-1"}))

	got, err := s.GetGroup(ctx, "grp-1")
	require.NoError(t, err)
	assert.True(t, got.AllocationsGenerated)
	assert.True(t, at.Equal(got.LastGeneratedAt))
	assert.Equal(t, "gen-1", got.Marker)
}

func TestGroup_StampUnknownGroup(t *testing.T) {
	s := createTestStore(t)

	err := s.StampGroup(context.Background(), "missing", model.GroupStamp{Marker: "gen-1"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGroup_PutKeepsStamp(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	g := createTestGroup(t, s, "grp-1")
	require.NoError(t, s.StampGroup(ctx, "grp-1", model.GroupStamp{Generated: true, At: time.Now(), Marker: "gen-1"}))

	name := "Renamed"
	g.Name = &name
	require.NoError(t, s.PutGroup(ctx, g))

	got, err := s.GetGroup(ctx, "grp-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", *got.Name)
	assert.Equal(t, "gen-1", got.Marker)
}

func TestLookups(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	depts, err := s.Departments(ctx)
	require.NoError(t, err)
	assert.NotNil(t, depts)
	assert.Empty(t, depts)

	require.NoError(t, s.PutDepartment(ctx, model.Department{ID: "d2", Name: "Lashoek"}))
	require.NoError(t, s.PutDepartment(ctx, model.Department{ID: "d1", Name: "Beton"}))
	require.NoError(t, s.PutDepartment(ctx, model.Department{ID: "d1", Name: "Beton"}))
	require.NoError(t, s.PutActivityOption(ctx, "Las"))
	require.NoError(t, s.PutActivityOption(ctx, "Beton"))
	require.NoError(t, s.PutActivityOption(ctx, "Las"))

	depts, err = s.Departments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Department{{ID: "d1", Name: "Beton"}, {ID: "d2", Name: "Lashoek"}}, depts)

	opts, err := s.ActivityOptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Beton", "Las"}, opts)
}
