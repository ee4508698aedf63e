package dataType

import (
	"sync"
	"time"
)

// SeenList tracks gossip message IDs that have already been applied, so a
// duplicate delivery is a no-op. Entries expire after the retention window
// to keep memory bounded; expiry uses per-second buckets so Cleanup only
// touches the seconds that have elapsed since the last sweep.
type SeenList struct {
	mu        sync.RWMutex
	seen      map[string]int64 // id -> expiration (unix seconds)
	buckets   map[int64][]string
	lastCheck int64
	retention time.Duration
}

func NewSeenList(retention time.Duration) *SeenList {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &SeenList{
		seen:      make(map[string]int64),
		buckets:   make(map[int64][]string),
		lastCheck: time.Now().Unix(),
		retention: retention,
	}
}

// MarkSeen records the id and reports whether it was new. A single call
// covers both the dedup test and the insert so two concurrent deliveries
// of the same id cannot both be treated as first.
func (sl *SeenList) MarkSeen(id string) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	expiration := time.Now().Add(sl.retention).Unix()
	if existing, exists := sl.seen[id]; exists && existing >= time.Now().Unix() {
		return false
	}
	sl.seen[id] = expiration
	sl.buckets[expiration] = append(sl.buckets[expiration], id)
	return true
}

func (sl *SeenList) IsSeen(id string) bool {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	expiration, exists := sl.seen[id]
	if !exists {
		return false
	}
	return time.Now().Unix() <= expiration
}

func (sl *SeenList) Len() int {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return len(sl.seen)
}

// Cleanup drops ids whose retention window has passed.
func (sl *SeenList) Cleanup() {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	now := time.Now().Unix()
	for t := sl.lastCheck + 1; t <= now; t++ {
		if ids, exists := sl.buckets[t]; exists {
			for _, id := range ids {
				// Re-marking may have extended the entry; only drop if still expired
				if exp, ok := sl.seen[id]; ok && exp <= now {
					delete(sl.seen, id)
				}
			}
			delete(sl.buckets, t)
		}
	}
	sl.lastCheck = now
}

// StartSeenListGC sweeps expired ids once per second until stopCh closes.
func StartSeenListGC(sl *SeenList, stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sl.Cleanup()
		case <-stopCh:
			return
		}
	}
}
