package writer

import (
	"context"
	"sort"
	"sync"

	"depthwatch/models"
)

// MemoryStore keeps records in process. Records are lost on exit.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]models.AnalysisRecord
	nextID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]models.AnalysisRecord)}
}

func (m *MemoryStore) Insert(_ context.Context, rec models.AnalysisRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	m.records[rec.Symbol] = append(m.records[rec.Symbol], rec)
	return nil
}

func (m *MemoryStore) Latest(ctx context.Context, symbol string) (models.AnalysisRecord, bool, error) {
	recs, err := m.History(ctx, symbol, 1)
	if err != nil || len(recs) == 0 {
		return models.AnalysisRecord{}, false, err
	}
	return recs[0], true, nil
}

// History orders by timestamp then insertion, newest first.
func (m *MemoryStore) History(_ context.Context, symbol string, limit int) ([]models.AnalysisRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.records[symbol]
	out := make([]models.AnalysisRecord, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		out = append(out, recs[i])
	}
	sortNewestFirst(out)
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func sortNewestFirst(recs []models.AnalysisRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Timestamp != recs[j].Timestamp {
			return recs[i].Timestamp > recs[j].Timestamp
		}
		return recs[i].ID > recs[j].ID
	})
}
