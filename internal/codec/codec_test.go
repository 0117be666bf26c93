package codec

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecstore/internal/consistency"
	"ecstore/internal/device"
	"ecstore/internal/expect"
	"ecstore/internal/object"
	"ecstore/internal/topology"
)

func TestExpect_WireFormat(t *testing.T) {
	tests := []struct {
		name string
		in   expect.Expect
		want []byte
	}{
		{"any", expect.ExpectAny(), []byte{0x08, 0x00}},
		{"none", expect.ExpectNone(), []byte{0x10, 0x01}},
		{"if match", expect.ExpectIfMatch(3, 300), []byte{0x1a, 0x05, 0x0a, 0x03, 0x03, 0xac, 0x02}},
		{"if none match", expect.ExpectIfNoneMatch(1), []byte{0x22, 0x03, 0x0a, 0x01, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Expect.Encode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b)

			got, err := Expect.Decode(b)
			require.NoError(t, err)
			assert.Equal(t, tt.in, got)
		})
	}
}

func TestExpect_DecodeRejects(t *testing.T) {
	_, err := Expect.Decode([]byte{0x28, 0x00})
	assert.ErrorIs(t, err, ErrUnknownDiscriminant)

	_, err = Expect.Decode([]byte{0x18, 0x01})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Expect.Decode([]byte{0x08})
	assert.ErrorIs(t, err, ErrMalformed)

	got, err := Expect.Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, expect.ExpectAny(), got)
}

func TestVersions_UnpackedDecode(t *testing.T) {
	got, err := Versions.Decode([]byte{0x08, 0x01, 0x08, 0x05})
	require.NoError(t, err)
	assert.Equal(t, object.Versions{1, 5}, got)
}

func TestReadConsistency_WireFormat(t *testing.T) {
	tests := []struct {
		in   consistency.ReadConsistency
		want []byte
	}{
		{consistency.ConsistentRead(), []byte{0x08, 0x00}},
		{consistency.StaleRead(), []byte{0x10, 0x00}},
		{consistency.QuorumRead(), []byte{0x18, 0x00}},
		{consistency.SubsetRead(3), []byte{0x20, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			b, err := ReadConsistency.Encode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b)

			got, err := ReadConsistency.Decode(b)
			require.NoError(t, err)
			assert.Equal(t, tt.in, got)
		})
	}
}

func TestReadConsistency_DecodeRejects(t *testing.T) {
	_, err := ReadConsistency.Decode([]byte{0x28, 0x00})
	assert.ErrorIs(t, err, ErrUnknownDiscriminant)

	_, err = ReadConsistency.Encode(consistency.ReadConsistency{Level: consistency.Level(9)})
	assert.ErrorIs(t, err, ErrUnknownDiscriminant)

	got, err := ReadConsistency.Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, consistency.ConsistentRead(), got)
}

func TestBucket_RoundTrip(t *testing.T) {
	kinds := []topology.Kind{
		topology.MetadataKind(1),
		topology.ReplicatedKind(8, 2),
		topology.DispersedKind(4, 2, 3),
	}

	for _, k := range kinds {
		t.Run(k.Tag.String(), func(t *testing.T) {
			in, err := topology.NewBucket("b1", 7, "rack1", k)
			require.NoError(t, err)

			b, err := Bucket.Encode(in)
			require.NoError(t, err)
			out, err := Bucket.Decode(b)
			require.NoError(t, err)

			assert.Equal(t, in.Summary(), out.Summary())
			assert.Equal(t, in.Kind(), out.Kind())
			assert.Equal(t, uint32(7), out.Seqno())
			assert.Equal(t, in.ReplicaOrFragmentCount(), out.ReplicaOrFragmentCount())
		})
	}
}

func TestBucket_DecodeRejects(t *testing.T) {
	_, err := Bucket.Decode([]byte{0x22, 0x00})
	assert.ErrorIs(t, err, ErrUnknownDiscriminant)

	_, err = Bucket.Decode(nil)
	assert.ErrorIs(t, err, ErrUnknownDiscriminant)

	var inner []byte
	inner = AppendStringField(inner, 1, "b1")
	inner = AppendVarintField(inner, 4, 2)
	inner = AppendVarintField(inner, 5, 2)
	_, err = Bucket.Decode(AppendBytesField(nil, 2, inner))
	assert.ErrorIs(t, err, topology.ErrInvalidTopology)
}

func TestBucketSummary(t *testing.T) {
	in := topology.Summary{ID: "b1", Kind: topology.Dispersed, Device: "rack1"}
	b, err := BucketSummary.Encode(in)
	require.NoError(t, err)
	out, err := BucketSummary.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = BucketSummary.Decode(AppendVarintField(nil, 2, 3))
	assert.ErrorIs(t, err, ErrUnknownDiscriminant)
}

func TestWeight_RoundTrip(t *testing.T) {
	for _, w := range []device.Weight{device.AutoWeight(), device.AbsoluteWeight(7), device.RelativeWeight(0.25)} {
		b, err := Weight.Encode(w)
		require.NoError(t, err)
		got, err := Weight.Decode(b)
		require.NoError(t, err)
		assert.Equal(t, w, got)
	}

	b, err := Weight.Encode(device.AbsoluteWeight(7))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x07}, b)

	_, err = Weight.Decode([]byte{0x20, 0x00})
	assert.ErrorIs(t, err, ErrUnknownDiscriminant)
}

func TestDevice_RoundTrip(t *testing.T) {
	devices := []device.Device{
		{ID: "v1", Seqno: 1, Kind: device.Virtual, Weight: device.RelativeWeight(0.5), Children: []string{"m1", "f1"}, Policy: device.Neutral},
		{ID: "m1", Seqno: 2, Kind: device.Memory, Weight: device.AutoWeight(), Server: "srv1", Capacity: 1 << 30},
		{ID: "f1", Seqno: 3, Kind: device.File, Weight: device.AbsoluteWeight(10), Server: "srv2", Capacity: 1 << 40, Filepath: "/data/f1.lusf"},
	}

	for _, d := range devices {
		t.Run(d.Kind.String(), func(t *testing.T) {
			b, err := Device.Encode(d)
			require.NoError(t, err)
			got, err := Device.Decode(b)
			require.NoError(t, err)

			want := d
			if d.Kind == device.Virtual {
				want.Children = d.SortedChildren()
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestDevice_DecodeRejects(t *testing.T) {
	var inner []byte
	inner = AppendStringField(inner, 1, "v1")
	inner = AppendStringField(inner, 4, "m1")
	inner = AppendVarintField(inner, 5, 9)
	_, err := Device.Decode(AppendBytesField(nil, 1, inner))
	assert.ErrorIs(t, err, ErrUnknownDiscriminant)

	_, err = Device.Decode(AppendBytesField(nil, 4, nil))
	assert.ErrorIs(t, err, ErrUnknownDiscriminant)

	inner = AppendStringField(nil, 1, "m1")
	_, err = Device.Decode(AppendBytesField(nil, 2, inner))
	assert.ErrorIs(t, err, device.ErrInvalidDevice)
}

func TestDeviceSummary(t *testing.T) {
	for _, s := range []device.Summary{
		{ID: "v1", Kind: device.Virtual},
		{ID: "f1", Server: "srv1", Kind: device.File},
	} {
		b, err := DeviceSummary.Encode(s)
		require.NoError(t, err)
		got, err := DeviceSummary.Decode(b)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := DeviceSummary.Decode(AppendVarintField(nil, 3, 3))
	assert.ErrorIs(t, err, ErrUnknownDiscriminant)
}

func TestServer_RoundTrip(t *testing.T) {
	in := device.Server{ID: "srv1", Seqno: 4, Host: netip.MustParseAddr("10.0.0.7"), Port: 14278}
	b, err := Server.Encode(in)
	require.NoError(t, err)
	got, err := Server.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, got)
	assert.Equal(t, "10.0.0.7:14278", got.Addr())

	bad := AppendStringField(nil, 3, "not-an-ip")
	_, err = Server.Decode(bad)
	assert.ErrorIs(t, err, device.ErrInvalidDevice)
}

func TestValue_RoundTrip(t *testing.T) {
	for _, v := range []object.VersionedValue{
		{Version: 3, Content: []byte("hello")},
		{Version: 9, Deleted: true},
	} {
		b, err := Value.Encode(v)
		require.NoError(t, err)
		got, err := Value.Decode(b)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	s := object.Summary{ID: "obj", Version: 12}
	b, err := Summary.Encode(s)
	require.NoError(t, err)
	got, err := Summary.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestDeadline(t *testing.T) {
	assert.Equal(t, uint64(1500), EncodeDeadline(1500*time.Millisecond))
	assert.Equal(t, uint64(0), EncodeDeadline(-time.Second))
	assert.Equal(t, 250*time.Millisecond, DecodeDeadline(250))
	assert.Equal(t, time.Duration(1<<63-1), DecodeDeadline(^uint64(0)))

	assert.Equal(t, 5*time.Second, LegacySecondsToDuration(5))
	assert.Equal(t, uint64(1), DurationToLegacySeconds(200*time.Millisecond))
	assert.Equal(t, uint64(2), DurationToLegacySeconds(2*time.Second))
	assert.Equal(t, uint64(0), DurationToLegacySeconds(0))
}
