package services

import (
	"context"
	"sync"
	"time"

	"github.com/deskops/snowsync/internal/models"
	"github.com/deskops/snowsync/internal/servicenow"
)

// fakeSource serves canned upstream records and counts calls
type fakeSource struct {
	mu        sync.Mutex
	records   map[string]servicenow.Record   // "table/sys_id" -> record
	tableRecs map[string][]servicenow.Record // table -> batch records
	errByID   map[string]error
	errTables map[string]error
	idCalls   int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		records:   make(map[string]servicenow.Record),
		tableRecs: make(map[string][]servicenow.Record),
		errByID:   make(map[string]error),
		errTables: make(map[string]error),
	}
}

func (f *fakeSource) FetchByID(ctx context.Context, table, sysID string) (servicenow.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idCalls++

	key := table + "/" + sysID
	if err, ok := f.errByID[key]; ok {
		return nil, err
	}
	rec, ok := f.records[key]
	if !ok {
		return nil, models.ErrTicketNotFound
	}
	return rec, nil
}

func (f *fakeSource) FetchByFilter(ctx context.Context, table, filter string, limit int) ([]servicenow.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.errTables[table]; ok {
		return nil, err
	}
	return f.tableRecs[table], nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idCalls
}

// memoryTicketStore implements TicketStore with the same skip-on-not-newer
// semantics as the MongoDB store
type memoryTicketStore struct {
	mu      sync.Mutex
	tickets map[string]*models.Ticket
	findErr error
}

func newMemoryTicketStore() *memoryTicketStore {
	return &memoryTicketStore{tickets: make(map[string]*models.Ticket)}
}

func (s *memoryTicketStore) FindByID(ctx context.Context, table, sysID string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findErr != nil {
		return nil, s.findErr
	}
	ticket, ok := s.tickets[table+"/"+sysID]
	if !ok {
		return nil, models.ErrTicketNotFound
	}
	copied := *ticket
	return &copied, nil
}

func (s *memoryTicketStore) Upsert(ctx context.Context, ticket *models.Ticket) (UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ticket.Key()
	existing, ok := s.tickets[key]
	if !ok {
		copied := *ticket
		s.tickets[key] = &copied
		return UpsertCreated, nil
	}
	if !ticket.UpdatedAt.After(existing.UpdatedAt) {
		return UpsertConflict, nil
	}
	copied := *ticket
	s.tickets[key] = &copied
	return UpsertUpdated, nil
}

func (s *memoryTicketStore) Delete(ctx context.Context, table, sysID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickets, table+"/"+sysID)
	return nil
}

func (s *memoryTicketStore) CountByTable(ctx context.Context, table string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range s.tickets {
		if t.Table == table {
			n++
		}
	}
	return n, nil
}

func (s *memoryTicketStore) put(ticket *models.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *ticket
	s.tickets[ticket.Key()] = &copied
}

func (s *memoryTicketStore) get(table, sysID string) *models.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickets[table+"/"+sysID]
}

// recordingBroadcaster captures published change events
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []*models.ChangeEvent
	err    error
}

func (b *recordingBroadcaster) Publish(ctx context.Context, event *models.ChangeEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBroadcaster) published() []*models.ChangeEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*models.ChangeEvent, len(b.events))
	copy(out, b.events)
	return out
}

// fakeLocker simulates lock contention
type fakeLocker struct {
	mu       sync.Mutex
	held     bool // lock owned by "another instance"
	acquires int
	releases int
}

func (l *fakeLocker) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquires++
	return !l.held, nil
}

func (l *fakeLocker) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases++
	return nil
}

// memoryJobStore implements JobStore in memory
type memoryJobStore struct {
	mu      sync.Mutex
	jobs    map[string]*models.SyncJob
	saveErr error
}

func newMemoryJobStore() *memoryJobStore {
	return &memoryJobStore{jobs: make(map[string]*models.SyncJob)}
}

func (s *memoryJobStore) failSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

func (s *memoryJobStore) Save(ctx context.Context, job *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *memoryJobStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *memoryJobStore) LoadAll(ctx context.Context) ([]*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.SyncJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		copied := *job
		out = append(out, &copied)
	}
	return out, nil
}

// runnerFunc adapts a function to the JobRunner interface
type runnerFunc func(ctx context.Context, job *models.SyncJob) ([]models.TableSyncResult, error)

func (f runnerFunc) RunJob(ctx context.Context, job *models.SyncJob) ([]models.TableSyncResult, error) {
	return f(ctx, job)
}

// fakeRunner records job invocations
type fakeRunner struct {
	mu   sync.Mutex
	runs []string
	err  error
}

func (r *fakeRunner) RunJob(ctx context.Context, job *models.SyncJob) ([]models.TableSyncResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, job.Name)
	if r.err != nil {
		return nil, r.err
	}
	return []models.TableSyncResult{{Table: "incident", Processed: 1}}, nil
}

func (r *fakeRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
