package tracker

import "github.com/relaywatch/relaywatch-backend/internal/model"

// timeline owns every open CandidateRecord for one parachain. It is only
// ever touched from the tracker's consumer loop.
type timeline struct {
	paraID     model.ParaID
	candidates map[model.Hash]*model.CandidateRecord

	// lastActivity is the highest relay height at which any candidate
	// progress was observed; stalled-parachain eviction keys off it.
	lastActivity uint64
}

func newTimeline(paraID model.ParaID) *timeline {
	return &timeline{
		paraID:     paraID,
		candidates: make(map[model.Hash]*model.CandidateRecord),
	}
}

func (t *timeline) get(candidate model.Hash) (*model.CandidateRecord, bool) {
	rec, ok := t.candidates[candidate]
	return rec, ok
}

func (t *timeline) put(rec *model.CandidateRecord) {
	t.candidates[rec.CandidateHash] = rec
}

func (t *timeline) drop(candidate model.Hash) {
	delete(t.candidates, candidate)
}

// open returns the still-unfinalized records, for checkpointing.
func (t *timeline) open() []model.CandidateRecord {
	out := make([]model.CandidateRecord, 0, len(t.candidates))
	for _, rec := range t.candidates {
		out = append(out, *rec)
	}
	return out
}

// legalTransition encodes the monotonic lifecycle: no move back to Backed,
// Disputed is terminal, and a locally derived TimedOut stays revocable by a
// chain-sourced Included or Disputed.
func legalTransition(from, to model.CandidateStatus) bool {
	if from == to {
		return false
	}
	switch from {
	case model.StatusBacked:
		return to == model.StatusIncluded || to == model.StatusTimedOut || to == model.StatusDisputed
	case model.StatusTimedOut:
		return to == model.StatusIncluded || to == model.StatusDisputed
	case model.StatusIncluded:
		return to == model.StatusDisputed
	default: // Disputed
		return false
	}
}
