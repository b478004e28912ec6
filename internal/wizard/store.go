package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"stallfront/internal/domain"
	"stallfront/internal/repo"
)

// Store persists wizard progress under a per-vendor key. Load must tolerate
// missing or corrupt data by returning the empty default, never an error for
// those cases; errors signal the storage itself is unavailable.
type Store interface {
	Load(ctx context.Context, vendorID string) (domain.WizardState, error)
	Save(ctx context.Context, vendorID string, state domain.WizardState) error
	Clear(ctx context.Context, vendorID string) error
}

// SQLStore keeps wizard state as an opaque JSON document in the wizard_states
// table.
type SQLStore struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (s SQLStore) Load(ctx context.Context, vendorID string) (domain.WizardState, error) {
	raw, err := s.Repo.GetWizardState(ctx, vendorID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.EmptyWizardState(), nil
	}
	if err != nil {
		return domain.WizardState{}, err
	}
	var state domain.WizardState
	if err := json.Unmarshal([]byte(raw), &state); err != nil || state.CurrentStage < domain.StageBasics || state.CurrentStage > domain.StageCount {
		// Corrupt document: start over rather than trap the vendor.
		return domain.EmptyWizardState(), nil
	}
	return state, nil
}

func (s SQLStore) Save(ctx context.Context, vendorID string, state domain.WizardState) error {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	state.UpdatedAt = now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.Repo.UpsertWizardState(ctx, vendorID, string(data), state.UpdatedAt)
}

func (s SQLStore) Clear(ctx context.Context, vendorID string) error {
	return s.Repo.DeleteWizardState(ctx, vendorID)
}

// MemoryStore is a map-backed Store used in tests and as the degraded-mode
// fallback when durable storage is unavailable.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]domain.WizardState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]domain.WizardState)}
}

func (m *MemoryStore) Load(_ context.Context, vendorID string) (domain.WizardState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.states[vendorID]; ok {
		return state, nil
	}
	return domain.EmptyWizardState(), nil
}

func (m *MemoryStore) Save(_ context.Context, vendorID string, state domain.WizardState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[vendorID] = state
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, vendorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, vendorID)
	return nil
}

// FallbackStore degrades to memory-only operation when the durable store
// fails. Degradation is logged once and never surfaced to the vendor.
type FallbackStore struct {
	Durable Store
	Logger  *slog.Logger

	mu       sync.Mutex
	memory   *MemoryStore
	degraded bool
}

func NewFallbackStore(durable Store, logger *slog.Logger) *FallbackStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackStore{Durable: durable, Logger: logger, memory: NewMemoryStore()}
}

func (f *FallbackStore) Load(ctx context.Context, vendorID string) (domain.WizardState, error) {
	if f.isDegraded() {
		return f.memory.Load(ctx, vendorID)
	}
	state, err := f.Durable.Load(ctx, vendorID)
	if err != nil {
		f.degrade("load", vendorID, err)
		return f.memory.Load(ctx, vendorID)
	}
	return state, nil
}

func (f *FallbackStore) Save(ctx context.Context, vendorID string, state domain.WizardState) error {
	if !f.isDegraded() {
		if err := f.Durable.Save(ctx, vendorID, state); err != nil {
			f.degrade("save", vendorID, err)
		} else {
			return f.memory.Save(ctx, vendorID, state)
		}
	}
	return f.memory.Save(ctx, vendorID, state)
}

func (f *FallbackStore) Clear(ctx context.Context, vendorID string) error {
	_ = f.memory.Clear(ctx, vendorID)
	if f.isDegraded() {
		return nil
	}
	if err := f.Durable.Clear(ctx, vendorID); err != nil {
		f.degrade("clear", vendorID, err)
	}
	return nil
}

func (f *FallbackStore) isDegraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}

func (f *FallbackStore) degrade(op, vendorID string, err error) {
	f.mu.Lock()
	already := f.degraded
	f.degraded = true
	f.mu.Unlock()
	if !already {
		f.Logger.Warn("wizard storage degraded; continuing in memory",
			"op", op, "vendor_id", vendorID, "error", err)
	}
}
