package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRecord indicates a record is missing its identity fields or
// carries an unknown status.
var ErrInvalidRecord = errors.New("invalid record")

// Store is the persistence contract the engine runs against. Implementations
// must be safe for concurrent callers working on different item ids; callers
// operating on the same item id are serialized by the engine.
//
// Lookup methods return (nil, nil) when no record exists. Upserts replace by
// key and are idempotent. Store errors are not recoverable by the engine and
// surface to the caller of Advance.
type Store interface {
	// StageRecord fetches the record for (itemID, stage), if any.
	StageRecord(ctx context.Context, itemID, stg string) (*StageRecord, error)

	// StageRecords returns every stage record for an item.
	StageRecords(ctx context.Context, itemID string) ([]*StageRecord, error)

	// UpsertStageRecord replaces the record keyed by (ItemID, Stage).
	UpsertStageRecord(ctx context.Context, record *StageRecord) error

	// SubTaskRecords returns the subtask records for (itemID, stage) in
	// creation order.
	SubTaskRecords(ctx context.Context, itemID, stg string) ([]*SubTaskRecord, error)

	// UpsertSubTaskRecord replaces the record keyed by (ItemID, Stage, Name).
	UpsertSubTaskRecord(ctx context.Context, record *SubTaskRecord) error

	// FanOut atomically persists the fanned-out parent record together with
	// one pending subtask record per name. Either everything is visible
	// afterwards or nothing is.
	FanOut(ctx context.Context, parent *StageRecord, names []string) error

	// ItemsAt lists the ids of items whose record for stage has the given
	// status, ordered by record creation time.
	ItemsAt(ctx context.Context, stg string, status Status) ([]string, error)

	// Close releases the store's resources.
	Close() error
}

func validateStageRecord(record *StageRecord) error {
	if record == nil {
		return fmt.Errorf("%w: nil stage record", ErrInvalidRecord)
	}
	if strings.TrimSpace(record.ItemID) == "" || strings.TrimSpace(record.Stage) == "" {
		return fmt.Errorf("%w: stage record needs item id and stage name", ErrInvalidRecord)
	}
	if _, ok := statusSet[record.Status]; !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, record.Status)
	}
	return nil
}

func validateSubTaskRecord(record *SubTaskRecord) error {
	if record == nil {
		return fmt.Errorf("%w: nil subtask record", ErrInvalidRecord)
	}
	if strings.TrimSpace(record.ItemID) == "" || strings.TrimSpace(record.Stage) == "" || strings.TrimSpace(record.Name) == "" {
		return fmt.Errorf("%w: subtask record needs item id, stage, and name", ErrInvalidRecord)
	}
	if _, ok := statusSet[record.Status]; !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, record.Status)
	}
	return nil
}
