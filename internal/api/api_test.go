package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/exyconn/platform/internal/events"
	"github.com/exyconn/platform/internal/flagengine"
	"github.com/exyconn/platform/internal/jobrunner"
	"github.com/exyconn/platform/internal/store"
)

const testOrg = "org-test"

// --- In-memory fakes behind the repository interfaces ---

type memFlagStore struct {
	mu     sync.Mutex
	flags  map[string]*store.Flag // keyed orgID/key
	nextID int64
}

func newMemFlagStore() *memFlagStore {
	return &memFlagStore{flags: make(map[string]*store.Flag)}
}

func flagKeyOf(orgID, key string) string { return orgID + "/" + key }

func (s *memFlagStore) CreateFlag(_ context.Context, f *store.Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := flagKeyOf(f.OrganizationID, f.Key)
	if _, ok := s.flags[k]; ok {
		return fmt.Errorf("flag %q: %w", f.Key, store.ErrConflict)
	}

	s.nextID++
	f.ID = s.nextID
	f.Version = 1
	f.CreatedAt = time.Now()
	f.UpdatedAt = f.CreatedAt

	cp := *f
	s.flags[k] = &cp
	return nil
}

func (s *memFlagStore) GetFlag(_ context.Context, orgID, key string) (*store.Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flags[flagKeyOf(orgID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *memFlagStore) ListFlags(_ context.Context, orgID string, limit, offset int) ([]*store.Flag, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*store.Flag
	for _, f := range s.flags {
		if f.OrganizationID == orgID {
			cp := *f
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	total := int64(len(all))
	if offset >= len(all) {
		return []*store.Flag{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (s *memFlagStore) ListAllFlags(_ context.Context) ([]*store.Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*store.Flag
	for _, f := range s.flags {
		cp := *f
		all = append(all, &cp)
	}
	return all, nil
}

func (s *memFlagStore) UpdateFlag(_ context.Context, f *store.Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := flagKeyOf(f.OrganizationID, f.Key)
	cur, ok := s.flags[k]
	if !ok {
		return store.ErrNotFound
	}

	f.Version = cur.Version + 1
	f.UpdatedAt = time.Now()
	cp := *f
	s.flags[k] = &cp
	return nil
}

func (s *memFlagStore) DeleteFlag(_ context.Context, orgID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := flagKeyOf(orgID, key)
	if _, ok := s.flags[k]; !ok {
		return store.ErrNotFound
	}
	delete(s.flags, k)
	return nil
}

type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]*store.Job // keyed orgID/id
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*store.Job)}
}

func (s *memJobStore) CreateJob(_ context.Context, j *store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j.Version = 1
	j.CreatedAt = time.Now()
	j.UpdatedAt = j.CreatedAt
	cp := *j
	s.jobs[flagKeyOf(j.OrganizationID, j.ID)] = &cp
	return nil
}

func (s *memJobStore) GetJob(_ context.Context, orgID, id string) (*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[flagKeyOf(orgID, id)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *memJobStore) ListJobs(_ context.Context, orgID string, limit, offset int) ([]*store.Job, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*store.Job
	for _, j := range s.jobs {
		if j.OrganizationID == orgID {
			cp := *j
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	if offset >= len(all) {
		return []*store.Job{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (s *memJobStore) UpdateJob(_ context.Context, j *store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := flagKeyOf(j.OrganizationID, j.ID)
	cur, ok := s.jobs[k]
	if !ok {
		return store.ErrNotFound
	}

	j.Version = cur.Version + 1
	j.UpdatedAt = time.Now()
	cp := *j
	s.jobs[k] = &cp
	return nil
}

func (s *memJobStore) UpdateJobStatus(_ context.Context, orgID, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[flagKeyOf(orgID, id)]
	if !ok {
		return store.ErrNotFound
	}
	j.Status = status
	if status == store.JobStatusActive {
		j.RetryCount = 0
	}
	j.Version++
	return nil
}

func (s *memJobStore) ApplyExecution(_ context.Context, j *store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := flagKeyOf(j.OrganizationID, j.ID)
	cur, ok := s.jobs[k]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != j.Version {
		return store.ErrVersionConflict
	}

	cp := *j
	cp.Version++
	s.jobs[k] = &cp
	j.Version++
	return nil
}

func (s *memJobStore) DeleteJob(_ context.Context, orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := flagKeyOf(orgID, id)
	if _, ok := s.jobs[k]; !ok {
		return store.ErrNotFound
	}
	delete(s.jobs, k)
	return nil
}

type memHistoryStore struct {
	mu      sync.Mutex
	records []*store.HistoryRecord
}

func (s *memHistoryStore) InsertRecord(_ context.Context, rec *store.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

func (s *memHistoryStore) ListByJob(_ context.Context, orgID, jobID string, limit, offset int) ([]*store.HistoryRecord, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*store.HistoryRecord
	for _, rec := range s.records {
		if rec.OrganizationID == orgID && rec.JobID == jobID {
			cp := *rec
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ExecutedAt.After(all[j].ExecutedAt) })

	total := int64(len(all))
	if offset >= len(all) {
		return []*store.HistoryRecord{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (s *memHistoryStore) PurgeOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type memVariableStore struct {
	mu     sync.Mutex
	vars   map[string]*store.EnvironmentVariable
	nextID int64
}

func newMemVariableStore() *memVariableStore {
	return &memVariableStore{vars: make(map[string]*store.EnvironmentVariable)}
}

func (s *memVariableStore) CreateVariable(_ context.Context, v *store.EnvironmentVariable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := flagKeyOf(v.OrganizationID, v.Key)
	if _, ok := s.vars[k]; ok {
		return fmt.Errorf("variable %q: %w", v.Key, store.ErrConflict)
	}

	s.nextID++
	v.ID = s.nextID
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	cp := *v
	s.vars[k] = &cp
	return nil
}

func (s *memVariableStore) GetVariable(_ context.Context, orgID, key string) (*store.EnvironmentVariable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vars[flagKeyOf(orgID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *memVariableStore) ListVariables(_ context.Context, orgID string, limit, offset int) ([]*store.EnvironmentVariable, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*store.EnvironmentVariable
	for _, v := range s.vars {
		if v.OrganizationID == orgID {
			cp := *v
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Key < all[j].Key })

	total := int64(len(all))
	if offset >= len(all) {
		return []*store.EnvironmentVariable{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (s *memVariableStore) UpdateVariable(_ context.Context, v *store.EnvironmentVariable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := flagKeyOf(v.OrganizationID, v.Key)
	cur, ok := s.vars[k]
	if !ok {
		return store.ErrNotFound
	}
	cur.Value = v.Value
	cur.UpdatedAt = time.Now()
	v.ID = cur.ID
	v.UpdatedAt = cur.UpdatedAt
	return nil
}

func (s *memVariableStore) DeleteVariable(_ context.Context, orgID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := flagKeyOf(orgID, key)
	if _, ok := s.vars[k]; !ok {
		return store.ErrNotFound
	}
	delete(s.vars, k)
	return nil
}

// stubSender returns a canned webhook outcome.
type stubSender struct {
	status int
	body   string
	err    error
}

func (s stubSender) Send(_ context.Context, _ jobrunner.WebhookRequest) jobrunner.WebhookResult {
	if s.err != nil {
		return jobrunner.WebhookResult{Err: s.err, Duration: time.Millisecond}
	}
	return jobrunner.WebhookResult{
		StatusCode: s.status,
		StatusText: http.StatusText(s.status),
		Body:       s.body,
		Duration:   time.Millisecond,
	}
}

// --- Harness ---

type testEnv struct {
	api       *API
	flags     *memFlagStore
	jobs      *memJobStore
	history   *memHistoryStore
	variables *memVariableStore
	broker    *events.MemoryBroker
}

func newTestEnv(t *testing.T, sender jobrunner.Sender) *testEnv {
	t.Helper()

	flags := newMemFlagStore()
	jobs := newMemJobStore()
	history := &memHistoryStore{}
	variables := newMemVariableStore()
	broker := events.NewMemoryBroker()

	a := New(Options{
		Flags:     flags,
		Jobs:      jobs,
		History:   history,
		Variables: variables,
		Evaluator: flagengine.New(nil),
		Runner:    jobrunner.NewRunner(jobs, history, broker, sender, nil),
		Broker:    broker,
		SkipAuth:  true,
	})

	return &testEnv{api: a, flags: flags, jobs: jobs, history: history, variables: variables, broker: broker}
}

// do issues a request against the router with the tenant header set.
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.doAs(t, method, path, testOrg, body)
}

// doAs issues a request for an explicit tenant.
func (e *testEnv) doAs(t *testing.T, method, path, orgID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Organization-ID", orgID)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	e.api.Router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}
