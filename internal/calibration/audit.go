package calibration

import (
	"context"
	"sync"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/model"
)

// MemoryAudit keeps learning records in process memory.
type MemoryAudit struct {
	mu      sync.RWMutex
	records []model.LearningUpdateRecord
}

func NewMemoryAudit() *MemoryAudit {
	return &MemoryAudit{}
}

func (a *MemoryAudit) Append(_ context.Context, rec model.LearningUpdateRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

func (a *MemoryAudit) Records(_ context.Context, expertID string, limit int) ([]model.LearningUpdateRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []model.LearningUpdateRecord
	for i := len(a.records) - 1; i >= 0; i-- {
		if a.records[i].ExpertID != expertID {
			continue
		}
		out = append(out, a.records[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (a *MemoryAudit) Learned(_ context.Context, expertID, gameID, category string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, r := range a.records {
		if r.ExpertID == expertID && r.GameID == gameID && r.Category == category {
			return true, nil
		}
	}
	return false, nil
}

// Len returns the total number of records.
func (a *MemoryAudit) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}
