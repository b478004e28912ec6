package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, vendorID, entityKind, entityID, actorID string, payload EventPayload) error {
	return w.append(ctx, tx.ExecContext, evtType, vendorID, entityKind, entityID, actorID, payload)
}

// AppendDB writes an event outside any transaction. Used for wizard mutations
// whose state lives in its own keyed store.
func (w Writer) AppendDB(ctx context.Context, evtType, vendorID, entityKind, entityID, actorID string, payload EventPayload) error {
	return w.append(ctx, w.DB.ExecContext, evtType, vendorID, entityKind, entityID, actorID, payload)
}

type execFunc func(ctx context.Context, query string, args ...any) (sql.Result, error)

func (w Writer) append(ctx context.Context, exec execFunc, evtType, vendorID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = exec(ctx, `INSERT INTO events(ts,type,vendor_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(vendorID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
