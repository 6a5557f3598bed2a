package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"inkpass/internal/events"
)

// Journal is an events.Notifier that appends every notification to the event
// store at the version carried by the event. Redelivery of an event already
// journaled at that version is accepted silently.
type Journal struct {
	store *EventStore
}

func NewJournal(store *EventStore) *Journal {
	return &Journal{store: store}
}

func (j *Journal) Notify(ctx context.Context, event events.Event) error {
	if event.Version < 1 {
		return fmt.Errorf("event %s: %w", event.Type, ErrInvalidVersion)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	err = j.store.Append(ctx, event.AggregateID, event.AggregateType, event.Version-1, []Record{{
		EventType: event.Type,
		EventData: data,
	}})
	if errors.Is(err, ErrConcurrencyConflict) {
		dup, loadErr := j.alreadyJournaled(ctx, event)
		if loadErr == nil && dup {
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("failed to journal %s: %w", event.Type, err)
	}
	return nil
}

func (j *Journal) alreadyJournaled(ctx context.Context, event events.Event) (bool, error) {
	records, err := j.store.Load(ctx, event.AggregateID, event.Version)
	if err != nil {
		return false, err
	}
	return len(records) > 0 && records[0].Version == event.Version && records[0].EventType == event.Type, nil
}
