package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWeight(t *testing.T) {
	tests := []struct {
		name     string
		w        Weight
		capacity uint64
		total    uint64
		want     float64
	}{
		{"auto uses capacity", AutoWeight(), 100, 1000, 100},
		{"zero value is auto", Weight{}, 42, 1000, 42},
		{"absolute", AbsoluteWeight(7), 100, 1000, 7},
		{"relative", RelativeWeight(0.5), 100, 200, 100},
		{"negative relative", RelativeWeight(-1), 100, 200, 0},
		{"relative of empty cluster", RelativeWeight(2), 100, 0, 0},
		{"relative of large cluster", RelativeWeight(0.25), 0, 1 << 40, 1 << 38},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveWeight(tt.w, tt.capacity, tt.total))
		})
	}
}

func TestPlace(t *testing.T) {
	tests := []struct {
		name       string
		candidates []Candidate
		policy     Policy
		segments   uint32
		want       Placement
	}{
		{
			name:       "scatter prefers heavier devices",
			candidates: []Candidate{{"a", 1}, {"b", 2}, {"c", 3}, {"d", 1}},
			policy:     Scatter,
			segments:   3,
			want:       Placement{"c", "b", "a"},
		},
		{
			name:       "scatter ties by id",
			candidates: []Candidate{{"c", 1}, {"a", 1}, {"b", 1}},
			policy:     Scatter,
			segments:   3,
			want:       Placement{"a", "b", "c"},
		},
		{
			name:       "scatter if possible reuses devices",
			candidates: []Candidate{{"a", 1}, {"b", 2}},
			policy:     ScatterIfPossible,
			segments:   5,
			want:       Placement{"b", "a", "b", "a", "b"},
		},
		{
			name:       "gather picks heaviest with id tie break",
			candidates: []Candidate{{"c", 3}, {"a", 1}, {"b", 3}},
			policy:     Gather,
			segments:   4,
			want:       Placement{"b", "b", "b", "b"},
		},
		{
			name:       "neutral interleaves by weight",
			candidates: []Candidate{{"a", 1}, {"b", 2}},
			policy:     Neutral,
			segments:   3,
			want:       Placement{"b", "a", "b"},
		},
		{
			name:       "as even as possible follows ideal share",
			candidates: []Candidate{{"a", 1}, {"b", 1}, {"c", 2}},
			policy:     AsEvenAsPossible,
			segments:   4,
			want:       Placement{"c", "a", "b", "c"},
		},
		{
			name:       "zero weight devices are skipped",
			candidates: []Candidate{{"a", 0}, {"b", 1}},
			policy:     Gather,
			segments:   2,
			want:       Placement{"b", "b"},
		},
		{
			name:       "no segments",
			candidates: []Candidate{{"a", 1}},
			policy:     Scatter,
			segments:   0,
			want:       Placement{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Place(tt.candidates, tt.policy, tt.segments)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlace_ScatterNeedsEnoughDevices(t *testing.T) {
	_, err := Place([]Candidate{{"a", 1}, {"b", 1}}, Scatter, 3)
	assert.ErrorIs(t, err, ErrNoEligibleDevice)
}

func TestPlace_NoPositiveWeight(t *testing.T) {
	for _, policy := range []Policy{ScatterIfPossible, Scatter, Neutral, Gather, AsEvenAsPossible} {
		_, err := Place([]Candidate{{"a", 0}, {"b", -2}}, policy, 1)
		assert.ErrorIs(t, err, ErrNoEligibleDevice, policy.String())

		_, err = Place(nil, policy, 1)
		assert.ErrorIs(t, err, ErrNoEligibleDevice, policy.String())
	}
}

func TestPlace_Rejects(t *testing.T) {
	_, err := Place([]Candidate{{"a", 1}, {"a", 2}}, Gather, 1)
	assert.ErrorIs(t, err, ErrInvalidDevice)

	_, err = Place([]Candidate{{"a", 1}}, Policy(9), 1)
	assert.ErrorIs(t, err, ErrInvalidDevice)
}

func TestPlace_AsEvenBoundsDeviation(t *testing.T) {
	candidates := []Candidate{{"a", 1}, {"b", 2}, {"c", 3}, {"d", 4}}
	got, err := Place(candidates, AsEvenAsPossible, 20)
	require.NoError(t, err)

	counts := got.Counts()
	assert.Equal(t, 2, counts["a"])
	assert.Equal(t, 4, counts["b"])
	assert.Equal(t, 6, counts["c"])
	assert.Equal(t, 8, counts["d"])
}

func TestPlace_Deterministic(t *testing.T) {
	candidates := []Candidate{{"x", 2}, {"y", 5}, {"z", 3}}
	for _, policy := range []Policy{ScatterIfPossible, Neutral, AsEvenAsPossible} {
		first, err := Place(candidates, policy, 17)
		require.NoError(t, err)
		second, err := Place([]Candidate{{"z", 3}, {"y", 5}, {"x", 2}}, policy, 17)
		require.NoError(t, err)
		assert.Equal(t, first, second, policy.String())
	}
}

func TestParsePolicy(t *testing.T) {
	for p := ScatterIfPossible; p <= AsEvenAsPossible; p++ {
		got, err := ParsePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := ParsePolicy("spread")
	assert.ErrorIs(t, err, ErrInvalidDevice)
}

func TestParseWeight(t *testing.T) {
	tests := []struct {
		in   string
		want Weight
	}{
		{"", AutoWeight()},
		{"auto", AutoWeight()},
		{"absolute(12)", AbsoluteWeight(12)},
		{" Relative(0.25) ", RelativeWeight(0.25)},
	}
	for _, tt := range tests {
		got, err := ParseWeight(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"heavy", "absolute(-1)", "relative(x)", "relative(-0.5)", "absolute(3"} {
		_, err := ParseWeight(bad)
		assert.ErrorIs(t, err, ErrInvalidDevice, bad)
	}
}

func TestParseKind(t *testing.T) {
	for k := Virtual; k <= File; k++ {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("tape")
	assert.ErrorIs(t, err, ErrInvalidDevice)
}
