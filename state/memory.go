package state

import (
	"context"
	"sort"
	"sync"
	"time"
)

type stageKey struct {
	itemID string
	stage  string
}

type subTaskKey struct {
	itemID string
	stage  string
	name   string
}

type memoryStageEntry struct {
	record *StageRecord
	seq    uint64
}

type memorySubTaskEntry struct {
	record *SubTaskRecord
	seq    uint64
}

// MemoryStore is an ephemeral Store backed by maps. It is intended for
// tests and throwaway runs; nothing survives the process.
type MemoryStore struct {
	mu       sync.RWMutex
	stages   map[stageKey]memoryStageEntry
	subtasks map[subTaskKey]memorySubTaskEntry
	seq      uint64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stages:   make(map[stageKey]memoryStageEntry),
		subtasks: make(map[subTaskKey]memorySubTaskEntry),
	}
}

// StageRecord fetches the record for (itemID, stg), if any.
func (m *MemoryStore) StageRecord(ctx context.Context, itemID, stg string) (*StageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.stages[stageKey{itemID: itemID, stage: stg}]
	if !ok {
		return nil, nil
	}
	return entry.record.Clone(), nil
}

// StageRecords returns every stage record for an item in creation order.
func (m *MemoryStore) StageRecords(ctx context.Context, itemID string) ([]*StageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []memoryStageEntry
	for key, entry := range m.stages {
		if key.itemID == itemID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	records := make([]*StageRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, entry.record.Clone())
	}
	return records, nil
}

// UpsertStageRecord replaces the record keyed by (ItemID, Stage).
func (m *MemoryStore) UpsertStageRecord(ctx context.Context, record *StageRecord) error {
	if err := validateStageRecord(record); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putStageLocked(record, time.Now().UTC())
	return nil
}

func (m *MemoryStore) putStageLocked(record *StageRecord, now time.Time) {
	key := stageKey{itemID: record.ItemID, stage: record.Stage}
	cp := record.Clone()
	cp.UpdatedAt = now
	seq := uint64(0)
	if prev, ok := m.stages[key]; ok {
		cp.CreatedAt = prev.record.CreatedAt
		seq = prev.seq
	} else {
		cp.CreatedAt = now
		m.seq++
		seq = m.seq
	}
	record.CreatedAt = cp.CreatedAt
	record.UpdatedAt = cp.UpdatedAt
	m.stages[key] = memoryStageEntry{record: cp, seq: seq}
}

// SubTaskRecords returns the subtask records for (itemID, stg) in creation
// order.
func (m *MemoryStore) SubTaskRecords(ctx context.Context, itemID, stg string) ([]*SubTaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []memorySubTaskEntry
	for key, entry := range m.subtasks {
		if key.itemID == itemID && key.stage == stg {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	records := make([]*SubTaskRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, entry.record.Clone())
	}
	return records, nil
}

// UpsertSubTaskRecord replaces the record keyed by (ItemID, Stage, Name).
func (m *MemoryStore) UpsertSubTaskRecord(ctx context.Context, record *SubTaskRecord) error {
	if err := validateSubTaskRecord(record); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putSubTaskLocked(record, time.Now().UTC())
	return nil
}

func (m *MemoryStore) putSubTaskLocked(record *SubTaskRecord, now time.Time) {
	key := subTaskKey{itemID: record.ItemID, stage: record.Stage, name: record.Name}
	cp := record.Clone()
	cp.UpdatedAt = now
	seq := uint64(0)
	if prev, ok := m.subtasks[key]; ok {
		cp.CreatedAt = prev.record.CreatedAt
		seq = prev.seq
	} else {
		cp.CreatedAt = now
		m.seq++
		seq = m.seq
	}
	record.CreatedAt = cp.CreatedAt
	record.UpdatedAt = cp.UpdatedAt
	m.subtasks[key] = memorySubTaskEntry{record: cp, seq: seq}
}

// FanOut persists the fanned-out parent and its pending subtasks under one
// lock acquisition so the set appears atomically.
func (m *MemoryStore) FanOut(ctx context.Context, parent *StageRecord, names []string) error {
	if err := validateStageRecord(parent); err != nil {
		return err
	}
	subtasks := make([]*SubTaskRecord, 0, len(names))
	for _, name := range names {
		record := &SubTaskRecord{
			ItemID: parent.ItemID,
			Stage:  parent.Stage,
			Name:   name,
			Status: StatusPending,
		}
		if err := validateSubTaskRecord(record); err != nil {
			return err
		}
		subtasks = append(subtasks, record)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	m.putStageLocked(parent, now)
	for _, record := range subtasks {
		m.putSubTaskLocked(record, now)
	}
	return nil
}

// ItemsAt lists item ids whose record for stg has the given status.
func (m *MemoryStore) ItemsAt(ctx context.Context, stg string, status Status) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []memoryStageEntry
	for key, entry := range m.stages {
		if key.stage == stg && entry.record.Status == status {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.record.ItemID)
	}
	return ids, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
