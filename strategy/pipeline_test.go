package strategy

import (
	"context"
	"sync"

	"github.com/curbtheory/curbside/llm"
	"github.com/curbtheory/curbside/storage"
)

// fakeStore is an in-memory Store for pipeline tests. All methods are
// mutex-guarded: the orchestrator runs its callers concurrently.
type fakeStore struct {
	mu sync.Mutex

	snapshots map[string]*storage.Snapshot
	rows      map[string]*storage.StrategyRow
	briefings map[string]*storage.Briefing
	jobs      map[string]bool

	lockBusy bool
	released int

	minStrategyErr  error
	consolidatedErr error
	upsertErr       error

	writeFailed    map[string]string
	failedCodes    map[string]string
	pendingMissing map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		snapshots:      make(map[string]*storage.Snapshot),
		rows:           make(map[string]*storage.StrategyRow),
		briefings:      make(map[string]*storage.Briefing),
		jobs:           make(map[string]bool),
		writeFailed:    make(map[string]string),
		failedCodes:    make(map[string]string),
		pendingMissing: make(map[string]string),
	}
}

func (f *fakeStore) GetSnapshot(_ context.Context, id string) (*storage.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snapshots[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *snap
	return &copied, nil
}

func (f *fakeStore) InsertSnapshot(_ context.Context, snap *storage.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *snap
	f.snapshots[snap.ID] = &copied
	return nil
}

func (f *fakeStore) SetSnapshotHoliday(_ context.Context, id, holiday string, isHoliday bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if snap, ok := f.snapshots[id]; ok {
		snap.Holiday = holiday
		snap.IsHoliday = isHoliday
	}
	return nil
}

func (f *fakeStore) EnsureStrategyRow(_ context.Context, snapshotID, triggerReason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[snapshotID]; !ok {
		f.rows[snapshotID] = &storage.StrategyRow{
			SnapshotID:    snapshotID,
			Status:        storage.StatusPending,
			TriggerReason: triggerReason,
		}
	}
	return nil
}

func (f *fakeStore) GetStrategyRow(_ context.Context, snapshotID string) (*storage.StrategyRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[snapshotID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (f *fakeStore) SetMinStrategy(_ context.Context, snapshotID, text, address, city, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.minStrategyErr != nil {
		return f.minStrategyErr
	}
	row := f.rows[snapshotID]
	row.MinStrategy = text
	row.UserResolvedAddress = address
	row.UserResolvedCity = city
	row.UserResolvedState = state
	row.Status = storage.StatusComplete
	return nil
}

func (f *fakeStore) SetStrategyHoliday(_ context.Context, snapshotID, holiday string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[snapshotID]; ok {
		row.Holiday = holiday
	}
	return nil
}

func (f *fakeStore) SetConsolidated(_ context.Context, snapshotID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consolidatedErr != nil {
		return f.consolidatedErr
	}
	row := f.rows[snapshotID]
	row.ConsolidatedStrategy = text
	row.Status = storage.StatusOK
	row.ErrorMessage = ""
	return nil
}

func (f *fakeStore) SetStrategyFailed(_ context.Context, snapshotID, errMsg, errCode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[snapshotID]; ok {
		row.Status = storage.StatusFailed
		row.ErrorMessage = errMsg
		row.ErrorCode = errCode
	}
	f.failedCodes[snapshotID] = errCode
	return nil
}

func (f *fakeStore) SetWriteFailed(_ context.Context, snapshotID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[snapshotID]; ok {
		row.Status = storage.StatusWriteFailed
		row.ErrorMessage = errMsg
	}
	f.writeFailed[snapshotID] = errMsg
	return nil
}

func (f *fakeStore) SetPendingMissing(_ context.Context, snapshotID, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[snapshotID]; ok {
		row.Status = storage.StatusPending
		row.ErrorMessage = msg
	}
	f.pendingMissing[snapshotID] = msg
	return nil
}

func (f *fakeStore) GetBriefing(_ context.Context, snapshotID string) (*storage.Briefing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.briefings[snapshotID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *b
	return &copied, nil
}

func (f *fakeStore) UpsertBriefing(_ context.Context, b *storage.Briefing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	copied := *b
	f.briefings[b.SnapshotID] = &copied
	return nil
}

func (f *fakeStore) InsertTriadJob(_ context.Context, snapshotID, kind string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.jobs[snapshotID] {
		return false, nil
	}
	f.jobs[snapshotID] = true
	return true, nil
}

func (f *fakeStore) TryAdvisoryLock(_ context.Context, key int64) (func(context.Context), bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockBusy {
		return nil, false, nil
	}
	return func(context.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.released++
	}, true, nil
}

// fakeDispatcher returns canned responses per role.
type fakeDispatcher struct {
	mu        sync.Mutex
	responses map[llm.Role]*llm.Response
	errs      map[llm.Role]error
	calls     []llm.Role
	prompts   map[llm.Role][]llm.Prompt
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		responses: make(map[llm.Role]*llm.Response),
		errs:      make(map[llm.Role]error),
		prompts:   make(map[llm.Role][]llm.Prompt),
	}
}

func (f *fakeDispatcher) Dispatch(_ context.Context, role llm.Role, prompt llm.Prompt) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, role)
	f.prompts[role] = append(f.prompts[role], prompt)
	if err := f.errs[role]; err != nil {
		return nil, err
	}
	if resp := f.responses[role]; resp != nil {
		return resp, nil
	}
	return &llm.Response{Text: "canned " + string(role) + " output"}, nil
}

func (f *fakeDispatcher) callCount(role llm.Role) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.calls {
		if r == role {
			n++
		}
	}
	return n
}

func newTestPipeline() (*Pipeline, *fakeStore, *fakeDispatcher) {
	store := newFakeStore()
	dispatcher := newFakeDispatcher()
	return NewPipeline(store, dispatcher, nil), store, dispatcher
}

func seedSnapshot(store *fakeStore, id string) *storage.Snapshot {
	snap := &storage.Snapshot{
		ID:               id,
		UserID:           "u1",
		Lat:              33.1507,
		Lng:              -96.8236,
		City:             "Frisco",
		State:            "TX",
		Country:          "US",
		FormattedAddress: "123 Main St, Frisco, TX",
		Timezone:         "America/Chicago",
		LocalISO:         "2026-08-24T18:30:00-05:00",
		DayOfWeek:        "Monday",
		DayPartKey:       "evening_rush",
		Hour:             18,
		Date:             "2026-08-24",
		Weather:          &storage.Weather{TempF: 58, Conditions: "clear", Forecast: "clear overnight"},
	}
	store.mu.Lock()
	store.snapshots[id] = snap
	store.mu.Unlock()
	return snap
}

func seedReadyRow(store *fakeStore, id string) {
	store.mu.Lock()
	store.rows[id] = &storage.StrategyRow{
		SnapshotID:          id,
		MinStrategy:         "Reposition north toward the stadium by 7:15 PM",
		Status:              storage.StatusComplete,
		UserResolvedAddress: "123 Main St, Frisco, TX",
	}
	store.briefings[id] = &storage.Briefing{
		SnapshotID:        id,
		TrafficConditions: "normal",
		Events:            []string{"Concert at the Star, 8 PM"},
	}
	store.mu.Unlock()
}
