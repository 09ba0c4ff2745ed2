package storage

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/relaywatch/relaywatch-backend/internal/codec"
	"github.com/relaywatch/relaywatch-backend/internal/model"
	"github.com/relaywatch/relaywatch-backend/pkg/safe"
)

// checkpointPrefix namespaces checkpoint records in the key-value store.
const checkpointPrefix = "chk/"

func checkpointKey(para model.ParaID) []byte {
	return []byte(fmt.Sprintf("%s%d", checkpointPrefix, para))
}

// CheckpointStore persists one resumable snapshot per tracked parachain.
// A snapshot that fails to decode is treated as absent: the tracker falls
// back to a cold start for that parachain rather than refusing to run.
type CheckpointStore struct {
	db     DB
	logger *zap.Logger
}

func NewCheckpointStore(db DB, logger *zap.Logger) *CheckpointStore {
	return &CheckpointStore{db: db, logger: logger}
}

// Save overwrites the checkpoint for the snapshot's parachain.
func (s *CheckpointStore) Save(cp *model.PersistedCheckpoint) error {
	if err := s.db.Put(checkpointKey(cp.ParaID), EncodeCheckpoint(cp)); err != nil {
		return fmt.Errorf("save checkpoint for para %d: %w", cp.ParaID, err)
	}
	return nil
}

// Load reads the checkpoint for one parachain. The second return value is
// false when no usable checkpoint exists.
func (s *CheckpointStore) Load(para model.ParaID) (*model.PersistedCheckpoint, bool, error) {
	raw, err := s.db.Get(checkpointKey(para))
	if err == ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load checkpoint for para %d: %w", para, err)
	}

	cp, err := DecodeCheckpoint(raw)
	if err != nil {
		s.logger.Warn("discarding corrupt checkpoint",
			zap.Uint32("para_id", uint32(para)),
			zap.Error(err))
		return nil, false, nil
	}
	return cp, true, nil
}

// All returns every decodable checkpoint in the store. Corrupt entries are
// logged and skipped.
func (s *CheckpointStore) All() ([]model.PersistedCheckpoint, error) {
	var out []model.PersistedCheckpoint
	err := s.db.ForEach([]byte(checkpointPrefix), func(key, value []byte) error {
		cp, err := DecodeCheckpoint(value)
		if err != nil {
			s.logger.Warn("skipping corrupt checkpoint",
				zap.ByteString("key", key),
				zap.Error(err))
			return nil
		}
		out = append(out, *cp)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan checkpoints: %w", err)
	}
	return out, nil
}

// Delete removes the checkpoint for one parachain, if any.
func (s *CheckpointStore) Delete(para model.ParaID) error {
	return s.db.Delete(checkpointKey(para))
}

// EncodeCheckpoint serializes a snapshot using the same compact framing as
// the on-chain records.
func EncodeCheckpoint(cp *model.PersistedCheckpoint) []byte {
	w := codec.NewWriter()
	w.CompactUint(uint64(cp.ParaID))
	w.Uint64(cp.LastFinalizedHeight)
	w.CompactUint(uint64(len(cp.Open)))
	for i := range cp.Open {
		encodeCheckpointRecord(w, &cp.Open[i])
	}
	return w.Bytes()
}

func encodeCheckpointRecord(w *codec.Writer, rec *model.CandidateRecord) {
	w.Raw(rec.CandidateHash[:])
	w.Uint64(rec.RelayParent.Height)
	w.Raw(rec.RelayParent.Hash[:])
	w.Raw(rec.RelayParent.ParentHash[:])

	w.CompactUint(uint64(len(rec.Backers)))
	for _, b := range rec.Backers {
		w.Uint32(uint32(b))
	}

	w.Uint32(rec.AvailabilityBits)
	w.Uint32(rec.MaxBits)
	w.Byte(byte(rec.Status))
	w.Byte(byte(rec.Outcome))
	if rec.LocalTimeout {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
	w.Uint64(rec.BackedAt)
	w.Uint64(rec.IncludedAt)
}

// DecodeCheckpoint is the inverse of EncodeCheckpoint.
func DecodeCheckpoint(data []byte) (*model.PersistedCheckpoint, error) {
	r := codec.NewReader(data)

	para, err := r.CompactUint()
	if err != nil {
		return nil, err
	}
	paraID, err := safe.Uint32(para)
	if err != nil {
		return nil, fmt.Errorf("parachain id: %w", err)
	}
	lastFinalized, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	count, err := r.CompactUint()
	if err != nil {
		return nil, err
	}
	if count > uint64(len(data)) {
		return nil, fmt.Errorf("checkpoint claims %d open candidates in %d bytes", count, len(data))
	}

	cp := &model.PersistedCheckpoint{
		ParaID:              model.ParaID(paraID),
		LastFinalizedHeight: lastFinalized,
	}
	for i := uint64(0); i < count; i++ {
		rec, err := decodeCheckpointRecord(r)
		if err != nil {
			return nil, fmt.Errorf("open candidate %d: %w", i, err)
		}
		rec.ParaID = cp.ParaID
		cp.Open = append(cp.Open, rec)
	}
	return cp, nil
}

func decodeCheckpointRecord(r *codec.Reader) (model.CandidateRecord, error) {
	var rec model.CandidateRecord

	hash, err := r.Bytes(32)
	if err != nil {
		return rec, err
	}
	copy(rec.CandidateHash[:], hash)

	if rec.RelayParent.Height, err = r.Uint64(); err != nil {
		return rec, err
	}
	if hash, err = r.Bytes(32); err != nil {
		return rec, err
	}
	copy(rec.RelayParent.Hash[:], hash)
	if hash, err = r.Bytes(32); err != nil {
		return rec, err
	}
	copy(rec.RelayParent.ParentHash[:], hash)

	backers, err := r.CompactUint()
	if err != nil {
		return rec, err
	}
	if backers > uint64(r.Remaining()) {
		return rec, fmt.Errorf("backer count %d exceeds remaining payload", backers)
	}
	for i := uint64(0); i < backers; i++ {
		idx, err := r.Uint32()
		if err != nil {
			return rec, err
		}
		rec.Backers = append(rec.Backers, model.ValidatorIndex(idx))
	}

	if rec.AvailabilityBits, err = r.Uint32(); err != nil {
		return rec, err
	}
	if rec.MaxBits, err = r.Uint32(); err != nil {
		return rec, err
	}

	status, err := r.Byte()
	if err != nil {
		return rec, err
	}
	if status > byte(model.StatusDisputed) {
		return rec, fmt.Errorf("unknown candidate status %d", status)
	}
	rec.Status = model.CandidateStatus(status)

	outcome, err := r.Byte()
	if err != nil {
		return rec, err
	}
	rec.Outcome = model.DisputeOutcome(outcome)

	local, err := r.Byte()
	if err != nil {
		return rec, err
	}
	rec.LocalTimeout = local != 0

	if rec.BackedAt, err = r.Uint64(); err != nil {
		return rec, err
	}
	if rec.IncludedAt, err = r.Uint64(); err != nil {
		return rec, err
	}
	return rec, nil
}
