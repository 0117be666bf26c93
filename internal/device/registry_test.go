package device

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDevices() []Device {
	return []Device{
		{ID: "mem1", Kind: Memory, Server: "s1", Capacity: 100},
		{ID: "mem2", Kind: Memory, Server: "s2", Capacity: 300},
		{ID: "file1", Kind: File, Server: "s3", Capacity: 100, Filepath: "/var/lib/ecstore/file1.lusf"},
		{ID: "v1", Kind: Virtual, Children: []string{"mem2", "mem1"}, Policy: ScatterIfPossible},
		{ID: "root", Kind: Virtual, Children: []string{"v1", "file1"}, Policy: AsEvenAsPossible},
	}
}

func TestRegistry_Capacity(t *testing.T) {
	reg, err := NewRegistry(testDevices())
	require.NoError(t, err)

	assert.Equal(t, uint64(500), reg.ClusterTotal())
	assert.Equal(t, uint64(400), reg.Capacity("v1"))
	assert.Equal(t, uint64(500), reg.Capacity("root"))
	assert.Equal(t, float64(400), reg.Weight("v1"))
	assert.Zero(t, reg.Weight("missing"))

	summaries := reg.Summaries()
	require.Len(t, summaries, 5)
	assert.Equal(t, Summary{ID: "file1", Server: "s3", Kind: File}, summaries[0])
}

func TestRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		devices []Device
	}{
		{"unknown child", []Device{{ID: "v", Kind: Virtual, Children: []string{"ghost"}}}},
		{"cycle", []Device{
			{ID: "v1", Kind: Virtual, Children: []string{"v2"}},
			{ID: "v2", Kind: Virtual, Children: []string{"v1"}},
		}},
		{"duplicate", []Device{
			{ID: "m", Kind: Memory, Server: "s"},
			{ID: "m", Kind: Memory, Server: "s"},
		}},
		{"virtual without children", []Device{{ID: "v", Kind: Virtual}}},
		{"physical without server", []Device{{ID: "m", Kind: Memory}}},
		{"file without path", []Device{{ID: "f", Kind: File, Server: "s"}}},
		{"unknown kind", []Device{{ID: "x", Kind: Kind(7)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.devices)
			assert.ErrorIs(t, err, ErrInvalidDevice)
		})
	}
}

func TestAllocator_PlaceOnDevice(t *testing.T) {
	reg, err := NewRegistry(testDevices())
	require.NoError(t, err)
	a := NewAllocator(zerolog.Nop(), nil)

	got, err := a.PlaceOnDevice(reg, "root", 5)
	require.NoError(t, err)
	assert.Equal(t, Placement{"mem2", "mem1", "mem2", "file1", "mem1"}, got)

	got, err = a.PlaceOnDevice(reg, "mem1", 2)
	require.NoError(t, err)
	assert.Equal(t, Placement{"mem1", "mem1"}, got)
}

func TestAllocator_PropagatesChildFailure(t *testing.T) {
	devices := testDevices()
	devices[3].Policy = Scatter
	reg, err := NewRegistry(devices)
	require.NoError(t, err)

	_, err = NewAllocator(zerolog.Nop(), nil).PlaceOnDevice(reg, "root", 5)
	assert.ErrorIs(t, err, ErrNoEligibleDevice)

	_, err = NewAllocator(zerolog.Nop(), nil).PlaceOnDevice(reg, "nope", 1)
	assert.ErrorIs(t, err, ErrInvalidDevice)
}
