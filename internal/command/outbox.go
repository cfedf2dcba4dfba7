package command

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/Bikxs/Skafu-sub001/internal/domain"
	"github.com/Bikxs/Skafu-sub001/internal/store"
)

type outboxEntry struct {
	key   string
	raw   []byte
	event domain.Event
}

// FlushOutbox drains staged events to the bus and the websocket hub.
// Delivered entries are removed; anything undelivered stays staged for the
// next flush, so delivery is at-least-once and consumers deduplicate on
// event ID.
func (p *Processor) FlushOutbox(ctx context.Context) error {
	var entries []outboxEntry
	err := p.store.View(ctx, func(txn store.Txn) error {
		return txn.Scan(store.KeyOutboxPrefix, func(key string, value []byte) bool {
			var evt domain.Event
			if err := json.Unmarshal(value, &evt); err != nil {
				p.logger.Error("outbox entry undecodable, skipping", "key", key, "error", err)
				return true
			}
			raw := make([]byte, len(value))
			copy(raw, value)
			entries = append(entries, outboxEntry{key: key, raw: raw, event: evt})
			return true
		})
	})
	if err != nil {
		return domain.NewInternal(err, "scan outbox")
	}
	if len(entries) == 0 {
		return nil
	}
	// Outbox keys are event IDs, so restore emission order before
	// publishing.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].event.Timestamp.Before(entries[j].event.Timestamp)
	})

	var (
		delivered  []string
		publishErr error
	)
	for _, entry := range entries {
		if publishErr = p.bus.Publish(ctx, entry.event); publishErr != nil {
			p.logger.Error("event publish failed, entry stays staged",
				"event_id", entry.event.EventID,
				"event_type", string(entry.event.EventType),
				"error", publishErr)
			break
		}
		delivered = append(delivered, entry.key)
		if p.hub != nil {
			p.hub.Broadcast(entry.event.AggregateID, entry.raw)
		}
	}
	if len(delivered) > 0 {
		err := p.store.Update(ctx, func(txn store.Txn) error {
			for _, key := range delivered {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return domain.NewInternal(err, "clear delivered outbox entries")
		}
	}
	if publishErr != nil {
		return domain.NewInternal(publishErr, "publish staged events")
	}
	return nil
}
