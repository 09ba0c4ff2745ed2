package exporter

import (
	"sync"

	"go.uber.org/zap"

	"github.com/relaywatch/relaywatch-backend/internal/model"
)

// ValidatorSink resolves backer indices against the current session
// validator set and reports who backed each candidate.
type ValidatorSink struct {
	logger *zap.Logger

	mu         sync.RWMutex
	validators []model.AccountID
}

func NewValidatorSink(logger *zap.Logger) *ValidatorSink {
	return &ValidatorSink{logger: logger}
}

// SetValidators swaps in the session validator set. Wired to the
// subscriber's validator hook.
func (s *ValidatorSink) SetValidators(validators []model.AccountID) {
	s.mu.Lock()
	s.validators = validators
	s.mu.Unlock()
}

// Resolve maps a validator index to its account, when the set is known.
func (s *ValidatorSink) Resolve(idx model.ValidatorIndex) (model.AccountID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(idx) >= len(s.validators) {
		return model.AccountID{}, false
	}
	return s.validators[int(idx)], true
}

func (s *ValidatorSink) Publish(ev model.MetricEvent) {
	if ev.Kind != model.MetricBacked || len(ev.Backers) == 0 {
		return
	}

	accounts := make([]string, 0, len(ev.Backers))
	unknown := 0
	for _, idx := range ev.Backers {
		if acc, ok := s.Resolve(idx); ok {
			accounts = append(accounts, acc.Hex())
		} else {
			unknown++
		}
	}

	s.logger.Info("candidate backed",
		zap.Uint32("para_id", uint32(ev.ParaID)),
		zap.Stringer("candidate", ev.CandidateHash),
		zap.Uint64("relay_height", ev.RelayHeight),
		zap.Strings("backers", accounts),
		zap.Int("unknown_backers", unknown))
}
