package dataType

import "sync"

// ValidationHistory keeps the most recent validation records for audit.
// Retention is bounded: once maxSize is reached the oldest record is
// dropped on append.
type ValidationHistory struct {
	mu      sync.RWMutex
	records []ValidationRecord
	maxSize int
}

func NewValidationHistory(maxSize int) *ValidationHistory {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &ValidationHistory{maxSize: maxSize}
}

func (vh *ValidationHistory) Append(record ValidationRecord) {
	vh.mu.Lock()
	defer vh.mu.Unlock()

	vh.records = append(vh.records, record)
	if len(vh.records) > vh.maxSize {
		vh.records = vh.records[len(vh.records)-vh.maxSize:]
	}
}

func (vh *ValidationHistory) Len() int {
	vh.mu.RLock()
	defer vh.mu.RUnlock()
	return len(vh.records)
}

// Snapshot returns a copy of the retained records, oldest first.
func (vh *ValidationHistory) Snapshot() []ValidationRecord {
	vh.mu.RLock()
	defer vh.mu.RUnlock()

	out := make([]ValidationRecord, len(vh.records))
	copy(out, vh.records)
	return out
}

// Get returns the record with the given id, if still retained.
func (vh *ValidationHistory) Get(id string) (ValidationRecord, bool) {
	vh.mu.RLock()
	defer vh.mu.RUnlock()

	for i := len(vh.records) - 1; i >= 0; i-- {
		if vh.records[i].ID == id {
			return vh.records[i], true
		}
	}
	return ValidationRecord{}, false
}
