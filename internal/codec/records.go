package codec

import (
	"github.com/relaywatch/relaywatch-backend/internal/model"
)

// Record tags as laid down by the runtime. Unknown tags are skipped.
const (
	tagBacked   = 0x00
	tagIncluded = 0x01
	tagTimedOut = 0x02
	tagDisputed = 0x03
)

// DecodeCandidateEvents decodes the candidate-events storage blob read at
// relayParent. The blob is a compact-prefixed vector of length-prefixed
// records; records with an unknown tag and trailing bytes inside a known
// record are skipped, not rejected.
func DecodeCandidateEvents(data []byte, relayParent model.BlockRef) ([]model.CandidateRecord, error) {
	r := NewReader(data)
	count, err := r.CompactUint()
	if err != nil {
		return nil, err
	}
	if count > uint64(r.Remaining()) {
		// Each record takes at least one byte; a count beyond that is garbage.
		return nil, errAt(r.Offset(), "record count %d exceeds input size", count)
	}

	records := make([]model.CandidateRecord, 0, count)
	for i := uint64(0); i < count; i++ {
		payloadLen, err := r.CompactUint()
		if err != nil {
			return nil, err
		}
		payload, err := r.Bytes(int(payloadLen))
		if err != nil {
			return nil, err
		}
		rec, known, err := decodeCandidateRecord(payload, r.Offset()-len(payload), relayParent)
		if err != nil {
			return nil, err
		}
		if known {
			records = append(records, rec)
		}
	}
	return records, nil
}

// decodeCandidateRecord decodes a single record payload. base is the
// payload's offset in the enclosing blob, so errors report absolute
// positions. Unknown tags return known=false.
func decodeCandidateRecord(payload []byte, base int, relayParent model.BlockRef) (model.CandidateRecord, bool, error) {
	rec := model.CandidateRecord{RelayParent: relayParent}
	r := NewReader(payload)

	fail := func(err error) (model.CandidateRecord, bool, error) {
		var derr *DecodeError
		if de, ok := err.(*DecodeError); ok {
			derr = &DecodeError{Reason: de.Reason, Offset: base + de.Offset}
		} else {
			derr = errAt(base, "%v", err)
		}
		return model.CandidateRecord{}, false, derr
	}

	tag, err := r.Byte()
	if err != nil {
		return fail(err)
	}
	if tag > tagDisputed {
		return rec, false, nil
	}

	paraID, err := r.Uint32()
	if err != nil {
		return fail(err)
	}
	rec.ParaID = model.ParaID(paraID)

	hashRaw, err := r.Bytes(32)
	if err != nil {
		return fail(err)
	}
	copy(rec.CandidateHash[:], hashRaw)

	switch tag {
	case tagBacked:
		backers, maxBits, err := decodeBitfield(r)
		if err != nil {
			return fail(err)
		}
		rec.Status = model.StatusBacked
		rec.Backers = backers
		rec.MaxBits = maxBits
		rec.BackedAt = relayParent.Height
	case tagIncluded:
		avail, err := r.Uint32()
		if err != nil {
			return fail(err)
		}
		maxBits, err := r.Uint32()
		if err != nil {
			return fail(err)
		}
		rec.Status = model.StatusIncluded
		rec.AvailabilityBits = avail
		rec.MaxBits = maxBits
		rec.IncludedAt = relayParent.Height
	case tagTimedOut:
		rec.Status = model.StatusTimedOut
	case tagDisputed:
		outcome, err := r.Byte()
		if err != nil {
			return fail(err)
		}
		latency, err := r.CompactUint()
		if err != nil {
			return fail(err)
		}
		rec.Status = model.StatusDisputed
		if outcome == 1 {
			rec.Outcome = model.DisputeValid
		} else {
			rec.Outcome = model.DisputeInvalid
		}
		rec.IncludedAt = 0
		_ = latency // resolution latency is re-derived by the tracker
	}

	// Newer runtimes may append fields; ignore whatever is left.
	return rec, true, nil
}

// decodeBitfield reads a compact bit count followed by the packed bits and
// returns the indices of the set bits plus the total bit width.
func decodeBitfield(r *Reader) ([]model.ValidatorIndex, uint32, error) {
	bits, err := r.CompactUint()
	if err != nil {
		return nil, 0, err
	}
	if bits > 1<<20 {
		return nil, 0, errAt(r.Offset(), "bitfield of %d bits is implausibly large", bits)
	}
	raw, err := r.Bytes(int((bits + 7) / 8))
	if err != nil {
		return nil, 0, err
	}
	var set []model.ValidatorIndex
	for i := uint64(0); i < bits; i++ {
		if raw[i/8]&(1<<(i%8)) != 0 {
			set = append(set, model.ValidatorIndex(i))
		}
	}
	return set, uint32(bits), nil
}

// EncodeBitfield is the Writer counterpart of decodeBitfield.
func EncodeBitfield(w *Writer, set []model.ValidatorIndex, bits uint32) {
	w.CompactUint(uint64(bits))
	raw := make([]byte, (bits+7)/8)
	for _, idx := range set {
		if uint32(idx) < bits {
			raw[idx/8] |= 1 << (idx % 8)
		}
	}
	w.Raw(raw)
}

// EncodeCandidateEvents builds a candidate-events blob from records. The
// subscriber never writes chain state; this is the fixture and tooling
// counterpart of DecodeCandidateEvents.
func EncodeCandidateEvents(records []model.CandidateRecord) []byte {
	w := NewWriter()
	w.CompactUint(uint64(len(records)))
	for i := range records {
		payload := encodeCandidateRecord(&records[i])
		w.CompactUint(uint64(len(payload)))
		w.Raw(payload)
	}
	return w.Bytes()
}

func encodeCandidateRecord(rec *model.CandidateRecord) []byte {
	w := NewWriter()
	switch rec.Status {
	case model.StatusBacked:
		w.Byte(tagBacked)
		w.Uint32(uint32(rec.ParaID))
		w.Raw(rec.CandidateHash[:])
		EncodeBitfield(w, rec.Backers, rec.MaxBits)
	case model.StatusIncluded:
		w.Byte(tagIncluded)
		w.Uint32(uint32(rec.ParaID))
		w.Raw(rec.CandidateHash[:])
		w.Uint32(rec.AvailabilityBits)
		w.Uint32(rec.MaxBits)
	case model.StatusTimedOut:
		w.Byte(tagTimedOut)
		w.Uint32(uint32(rec.ParaID))
		w.Raw(rec.CandidateHash[:])
	case model.StatusDisputed:
		w.Byte(tagDisputed)
		w.Uint32(uint32(rec.ParaID))
		w.Raw(rec.CandidateHash[:])
		if rec.Outcome == model.DisputeValid {
			w.Byte(1)
		} else {
			w.Byte(0)
		}
		w.CompactUint(0)
	}
	return w.Bytes()
}

// DecodeValidatorSet decodes the session validator set storage blob: a
// compact-prefixed vector of 32-byte account identifiers.
func DecodeValidatorSet(data []byte) ([]model.AccountID, error) {
	r := NewReader(data)
	count, err := r.CompactUint()
	if err != nil {
		return nil, err
	}
	if count*32 > uint64(r.Remaining()) {
		return nil, errAt(r.Offset(), "validator count %d exceeds input size", count)
	}
	out := make([]model.AccountID, 0, count)
	for i := uint64(0); i < count; i++ {
		raw, err := r.Bytes(32)
		if err != nil {
			return nil, err
		}
		var id model.AccountID
		copy(id[:], raw)
		out = append(out, id)
	}
	return out, nil
}
