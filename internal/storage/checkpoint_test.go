package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaywatch/relaywatch-backend/internal/codec"
	"github.com/relaywatch/relaywatch-backend/internal/model"
)

func sampleCheckpoint() *model.PersistedCheckpoint {
	relay := model.BlockRef{Height: 5_000_000}
	relay.Hash[0] = 0xaa
	relay.ParentHash[0] = 0xbb

	open := model.CandidateRecord{
		ParaID:           2000,
		RelayParent:      relay,
		Backers:          []model.ValidatorIndex{1, 4, 7},
		AvailabilityBits: 120,
		MaxBits:          200,
		Status:           model.StatusBacked,
		BackedAt:         relay.Height,
	}
	open.CandidateHash[31] = 0x7f

	return &model.PersistedCheckpoint{
		ParaID:              2000,
		LastFinalizedHeight: 4_999_990,
		Open:                []model.CandidateRecord{open},
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	t.Parallel()

	want := sampleCheckpoint()
	got, err := DecodeCheckpoint(EncodeCheckpoint(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCheckpointStoreSaveLoad(t *testing.T) {
	t.Parallel()

	store := NewCheckpointStore(NewMemory(), zap.NewNop())

	_, ok, err := store.Load(2000)
	require.NoError(t, err)
	assert.False(t, ok, "load before save should report no checkpoint")

	cp := sampleCheckpoint()
	require.NoError(t, store.Save(cp))

	got, ok, err := store.Load(2000)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cp, got)
}

func TestCheckpointStoreCorruptIsAbsent(t *testing.T) {
	t.Parallel()

	db := NewMemory()
	store := NewCheckpointStore(db, zap.NewNop())

	require.NoError(t, db.Put([]byte("chk/2000"), []byte{0xff, 0x01}))

	_, ok, err := store.Load(2000)
	require.NoError(t, err)
	assert.False(t, ok, "corrupt checkpoint must read as absent")
}

func TestCheckpointStoreAllSkipsCorrupt(t *testing.T) {
	t.Parallel()

	db := NewMemory()
	store := NewCheckpointStore(db, zap.NewNop())

	good := sampleCheckpoint()
	require.NoError(t, store.Save(good))
	require.NoError(t, db.Put([]byte("chk/2001"), []byte{0x03}))

	all, err := store.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, *good, all[0])
}

func TestCheckpointTruncatedPayloads(t *testing.T) {
	t.Parallel()

	full := EncodeCheckpoint(sampleCheckpoint())
	for cut := 0; cut < len(full); cut++ {
		_, err := DecodeCheckpoint(full[:cut])
		require.Error(t, err, "truncation at %d bytes must fail", cut)
	}
}

func TestCheckpointRejectsOversizedParaID(t *testing.T) {
	t.Parallel()

	w := codec.NewWriter()
	w.CompactUint(uint64(1) << 40) // does not fit a parachain id
	w.Uint64(100)
	w.CompactUint(0)

	_, err := DecodeCheckpoint(w.Bytes())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parachain id")
}

func TestCheckpointDelete(t *testing.T) {
	t.Parallel()

	store := NewCheckpointStore(NewMemory(), zap.NewNop())
	require.NoError(t, store.Save(sampleCheckpoint()))
	require.NoError(t, store.Delete(2000))

	_, ok, err := store.Load(2000)
	require.NoError(t, err)
	assert.False(t, ok)
}
