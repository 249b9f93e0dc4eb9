package model

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestExperiment_RunningAt(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	exp := &Experiment{
		Status:  ExperimentActive,
		StartAt: start,
		EndAt:   start.Add(7 * 24 * time.Hour),
	}

	assert.True(t, exp.RunningAt(start))
	assert.True(t, exp.RunningAt(start.Add(3*24*time.Hour)))
	assert.True(t, exp.RunningAt(exp.EndAt))
	assert.False(t, exp.RunningAt(start.Add(-time.Second)))
	assert.False(t, exp.RunningAt(exp.EndAt.Add(time.Second)))

	exp.Status = ExperimentCompleted
	assert.False(t, exp.RunningAt(start.Add(time.Hour)))
}

func TestExperiment_VersionFor(t *testing.T) {
	t.Parallel()

	exp := &Experiment{Variants: map[Variant]string{
		VariantControl:   "1.0.0",
		VariantTreatment: "1.1.0",
	}}
	assert.Equal(t, "1.0.0", exp.VersionFor(VariantControl))
	assert.Equal(t, "1.1.0", exp.VersionFor(VariantTreatment))
	assert.Equal(t, LatestVersion, exp.VersionFor(VariantProduction))
}

func TestIsReleaseVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		version string
		want    bool
	}{
		{"1.0.0", true},
		{"12.4.103", true},
		{"1.0", false},
		{"v1.0.0", false},
		{"1.0.0-rc1", false},
		{"exp-1.0.0", false},
		{"dev-2.0.0", false},
		{"test-3.1.4", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsReleaseVersion(tt.version))
		})
	}
}

func TestSentinelWrapping(t *testing.T) {
	t.Parallel()

	err := InvalidInputf("traffic split %d out of range", 120)
	assert.True(t, eris.Is(err, ErrInvalidInput))
	assert.False(t, eris.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "traffic split 120 out of range")

	nf := NotFoundf("experiment %s", "abc")
	assert.True(t, eris.Is(nf, ErrNotFound))
}

func TestCompareVersions(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, CompareVersions("1.10.0", "1.9.0"))
	assert.Equal(t, -1, CompareVersions("1.2.3", "2.0.0"))
	assert.Equal(t, 0, CompareVersions("3.1.4", "3.1.4"))
	assert.Positive(t, CompareVersions("1.2.1", "1.2"))
	assert.Negative(t, CompareVersions("dev-a", "dev-b"))
}

func TestSortVersionsDesc(t *testing.T) {
	t.Parallel()

	vs := []ModelVersion{{Version: "1.2.0"}, {Version: "1.10.0"}, {Version: "exp-1"}, {Version: "1.9.3"}}
	SortVersionsDesc(vs)

	var got []string
	for _, v := range vs {
		got = append(got, v.Version)
	}
	assert.Equal(t, []string{"exp-1", "1.10.0", "1.9.3", "1.2.0"}, got)
}
