package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactUint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   []byte
		want    uint64
		wantErr bool
	}{
		{name: "single byte zero", input: []byte{0x00}, want: 0},
		{name: "single byte max", input: []byte{0xfc}, want: 63},
		{name: "two bytes min", input: []byte{0x01, 0x01}, want: 64},
		{name: "two bytes", input: []byte{0x15, 0x01}, want: 69},
		{name: "two bytes max", input: []byte{0xfd, 0xff}, want: 16383},
		{name: "four bytes min", input: []byte{0x02, 0x00, 0x01, 0x00}, want: 16384},
		{name: "four bytes max", input: []byte{0xfe, 0xff, 0xff, 0xff}, want: 1<<30 - 1},
		{name: "big integer", input: []byte{0x03, 0x00, 0x00, 0x00, 0x40}, want: 1 << 30},
		{name: "non-canonical two bytes", input: []byte{0x01, 0x00}, wantErr: true},
		{name: "non-canonical four bytes", input: []byte{0x02, 0x01, 0x00, 0x00}, wantErr: true},
		{name: "truncated two bytes", input: []byte{0x01}, wantErr: true},
		{name: "truncated big integer", input: []byte{0x03, 0x00, 0x00}, wantErr: true},
		{name: "big integer too wide", input: []byte{0x17, 1, 2, 3, 4, 5, 6, 7, 8, 9}, wantErr: true},
		{name: "empty input", input: nil, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NewReader(tt.input).CompactUint()
			if tt.wantErr {
				require.Error(t, err)
				var derr *DecodeError
				require.ErrorAs(t, err, &derr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompactUintRoundTrip(t *testing.T) {
	t.Parallel()

	for _, v := range []uint64{0, 1, 63, 64, 16383, 16384, 1<<30 - 1, 1 << 30, 1 << 40, 1<<64 - 1} {
		w := NewWriter()
		w.CompactUint(v)
		got, err := NewReader(w.Bytes()).CompactUint()
		require.NoError(t, err, "value %d", v)
		assert.Equal(t, v, got)
	}
}

func TestReaderFixedWidth(t *testing.T) {
	t.Parallel()

	r := NewReader([]byte{0x2a, 0x00, 0x00, 0x00, 0xff, 0xff})
	v, err := r.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), v)

	_, err = r.Uint32()
	require.Error(t, err)
	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, 4, derr.Offset, "error should point at where the read started")

	// The failed read must not consume input.
	rest, err := r.Bytes(2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xff}, rest)
}
