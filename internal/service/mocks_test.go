package service_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/skarsol/convoy/internal/domain"
	"github.com/skarsol/convoy/internal/domain/repo"
	"github.com/skarsol/convoy/internal/domain/run"
	"github.com/skarsol/convoy/internal/domain/settings"
	"github.com/skarsol/convoy/internal/domain/update"
	"github.com/skarsol/convoy/internal/port/agentclient"
	"github.com/skarsol/convoy/internal/port/gitsignal"
	"github.com/skarsol/convoy/internal/port/messagequeue"
)

// mockStore is an in-memory Store with optimistic locking on runs.
type mockStore struct {
	mu       sync.Mutex
	updates  map[string]*update.Update
	repos    map[string]*repo.Repo
	runs     map[string]*run.Run
	settings *settings.Settings
	saves    int
}

func newMockStore() *mockStore {
	return &mockStore{
		updates: make(map[string]*update.Update),
		repos:   make(map[string]*repo.Repo),
		runs:    make(map[string]*run.Run),
	}
}

func (m *mockStore) putRun(r *run.Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.runs[r.ID] = &cp
}

func (m *mockStore) putUpdate(u *update.Update) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.updates[u.ID] = &cp
}

func (m *mockStore) putRepo(r *repo.Repo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.repos[r.ID] = &cp
}

func (m *mockStore) ListUpdates(_ context.Context) ([]update.Update, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []update.Update
	for _, u := range m.updates {
		out = append(out, *u)
	}
	return out, nil
}

func (m *mockStore) GetUpdate(_ context.Context, id string) (*update.Update, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.updates[id]
	if !ok {
		return nil, fmt.Errorf("update %s: %w", id, domain.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (m *mockStore) CreateUpdate(_ context.Context, req *update.CreateRequest) (*update.Update, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &update.Update{
		ID:              fmt.Sprintf("u%d", len(m.updates)+1),
		Title:           req.Title,
		Status:          update.StatusInProgress,
		SelectedRepoIDs: req.SelectedRepoIDs,
		AutoCreatePR:    req.AutoCreatePR,
	}
	m.updates[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *mockStore) UpdateUpdateStatus(_ context.Context, id string, status update.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.updates[id]
	if !ok {
		return fmt.Errorf("update %s: %w", id, domain.ErrNotFound)
	}
	u.Status = status
	return nil
}

func (m *mockStore) DeleteUpdate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.updates, id)
	return nil
}

func (m *mockStore) ListRepos(_ context.Context) ([]repo.Repo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repo.Repo
	for _, r := range m.repos {
		out = append(out, *r)
	}
	return out, nil
}

func (m *mockStore) GetRepo(_ context.Context, id string) (*repo.Repo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok {
		return nil, fmt.Errorf("repo %s: %w", id, domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *mockStore) CreateRepo(_ context.Context, req *repo.CreateRequest) (*repo.Repo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &repo.Repo{
		ID:          fmt.Sprintf("repo%d", len(m.repos)+1),
		Name:        req.Name,
		GitHubLinks: req.GitHubLinks,
	}
	m.repos[r.ID] = r
	cp := *r
	return &cp, nil
}

func (m *mockStore) UpdateRepo(_ context.Context, r *repo.Repo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.repos[r.ID]; !ok {
		return fmt.Errorf("repo %s: %w", r.ID, domain.ErrNotFound)
	}
	cp := *r
	m.repos[r.ID] = &cp
	return nil
}

func (m *mockStore) DeleteRepo(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.repos, id)
	return nil
}

func (m *mockStore) ListRunsByUpdate(_ context.Context, updateID string) ([]run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []run.Run
	for _, r := range m.runs {
		if r.UpdateID == updateID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockStore) ListActiveRuns(_ context.Context) ([]run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []run.Run
	for _, r := range m.runs {
		if !r.Terminal() {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockStore) GetRun(_ context.Context, id string) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *mockStore) GetRunByAgent(_ context.Context, agentID string) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.AgentID == agentID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("agent %s: %w", agentID, domain.ErrNotFound)
}

func (m *mockStore) CreateRun(_ context.Context, r *run.Run) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	if cp.ID == "" {
		cp.ID = fmt.Sprintf("r%d", len(m.runs)+1)
	}
	m.runs[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *mockStore) SaveRun(_ context.Context, r *run.Run) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.runs[r.ID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", r.ID, domain.ErrNotFound)
	}
	if cur.Version != r.Version {
		return nil, fmt.Errorf("run %s: %w", r.ID, domain.ErrConflict)
	}
	cp := *r
	cp.Version++
	m.runs[r.ID] = &cp
	m.saves++
	out := cp
	return &out, nil
}

func (m *mockStore) GetSettings(_ context.Context) (*settings.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings == nil {
		m.settings = &settings.Settings{ID: "s1"}
	}
	cp := *m.settings
	return &cp, nil
}

func (m *mockStore) SaveSettings(_ context.Context, req *settings.UpdateRequest) (*settings.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings == nil {
		m.settings = &settings.Settings{ID: "s1"}
	}
	if req.AgentAPIKey != nil {
		m.settings.AgentAPIKey = *req.AgentAPIKey
	}
	if req.GitHubToken != nil {
		m.settings.GitHubToken = *req.GitHubToken
	}
	if req.WebhookSecret != nil {
		m.settings.WebhookSecret = *req.WebhookSecret
	}
	cp := *m.settings
	return &cp, nil
}

func (m *mockStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// mockQueue records published messages and delivers them to subscribers.
type mockQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newMockQueue() *mockQueue {
	return &mockQueue{published: make(map[string][][]byte)}
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published[subject] = append(q.published[subject], data)
	return nil
}

func (q *mockQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) count(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published[subject])
}

// mockHub records broadcast events.
type mockHub struct {
	mu     sync.Mutex
	events []string
}

func (h *mockHub) BroadcastEvent(_ context.Context, eventType string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
}

func (h *mockHub) count(eventType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// mockAgent is a scripted agent provider.
type mockAgent struct {
	mu          sync.Mutex
	launchID    string
	launchErr   error
	launches    []agentclient.LaunchRequest
	signal      *run.AgentSignal
	statusErr   error
	messages    []run.Message
	convCalls   int
	followups   []string
	followupErr error
	stopped     []string
	verifyErr   error
}

func (a *mockAgent) Launch(_ context.Context, req *agentclient.LaunchRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.launchErr != nil {
		return "", a.launchErr
	}
	a.launches = append(a.launches, *req)
	if a.launchID == "" {
		return fmt.Sprintf("bc_%d", len(a.launches)), nil
	}
	return a.launchID, nil
}

func (a *mockAgent) Status(_ context.Context, agentID string) (*run.AgentSignal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.statusErr != nil {
		return nil, a.statusErr
	}
	cp := *a.signal
	return &cp, nil
}

func (a *mockAgent) Conversation(_ context.Context, agentID string) ([]run.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.convCalls++
	return append([]run.Message(nil), a.messages...), nil
}

func (a *mockAgent) Followup(_ context.Context, agentID, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.followupErr != nil {
		return a.followupErr
	}
	a.followups = append(a.followups, text)
	return nil
}

func (a *mockAgent) Stop(_ context.Context, agentID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = append(a.stopped, agentID)
	return nil
}

func (a *mockAgent) Verify(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.verifyErr
}

func (a *mockAgent) conversationCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.convCalls
}

// mockBranches is a scripted branch signal client.
type mockBranches struct {
	mu     sync.Mutex
	signal *run.BranchSignal
	check  *gitsignal.RepoCheck
	err    error
}

func (b *mockBranches) Status(_ context.Context, _ gitsignal.BranchRef) (*run.BranchSignal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	cp := *b.signal
	return &cp, nil
}

func (b *mockBranches) CheckRepo(_ context.Context, _, _ string) (*gitsignal.RepoCheck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	if b.check == nil {
		return &gitsignal.RepoCheck{Accessible: true}, nil
	}
	cp := *b.check
	return &cp, nil
}

func (b *mockBranches) set(sig *run.BranchSignal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signal = sig
}

// mockPRs is a scripted pull request signal client.
type mockPRs struct {
	mu      sync.Mutex
	signal  *run.PRSignal
	details *gitsignal.PRDetails
	err     error
}

func (p *mockPRs) Status(_ context.Context, _ gitsignal.PRRef) (*run.PRSignal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	cp := *p.signal
	return &cp, nil
}

func (p *mockPRs) Details(_ context.Context, _ gitsignal.PRRef) (*gitsignal.PRDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.details, nil
}
