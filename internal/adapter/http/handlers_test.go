package http_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	cvhttp "github.com/skarsol/convoy/internal/adapter/http"
	"github.com/skarsol/convoy/internal/adapter/ws"
	"github.com/skarsol/convoy/internal/config"
	"github.com/skarsol/convoy/internal/domain"
	"github.com/skarsol/convoy/internal/domain/repo"
	"github.com/skarsol/convoy/internal/domain/run"
	"github.com/skarsol/convoy/internal/domain/settings"
	"github.com/skarsol/convoy/internal/domain/update"
	"github.com/skarsol/convoy/internal/port/agentclient"
	"github.com/skarsol/convoy/internal/port/gitsignal"
	"github.com/skarsol/convoy/internal/port/messagequeue"
	"github.com/skarsol/convoy/internal/service"
)

// mockStore implements database.Store for handler tests.
type mockStore struct {
	mu       sync.Mutex
	updates  map[string]*update.Update
	repos    map[string]*repo.Repo
	runs     map[string]*run.Run
	settings *settings.Settings
}

func newMockStore() *mockStore {
	return &mockStore{
		updates:  make(map[string]*update.Update),
		repos:    make(map[string]*repo.Repo),
		runs:     make(map[string]*run.Run),
		settings: &settings.Settings{ID: "s1"},
	}
}

func (m *mockStore) ListUpdates(_ context.Context) ([]update.Update, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []update.Update{}
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
	}
	m.updates[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *mockStore) UpdateUpdateStatus(_ context.Context, id string, status update.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.updates[id]; ok {
		u.Status = status
	}
	return nil
}

func (m *mockStore) DeleteUpdate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.updates[id]; !ok {
		return fmt.Errorf("update %s: %w", id, domain.ErrNotFound)
	}
	delete(m.updates, id)
	return nil
}

func (m *mockStore) ListRepos(_ context.Context) ([]repo.Repo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []repo.Repo{}
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
	out := []run.Run{}
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
	out := []run.Run{}
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
	out := cp
	return &out, nil
}

func (m *mockStore) GetSettings(_ context.Context) (*settings.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.settings
	return &cp, nil
}

func (m *mockStore) SaveSettings(_ context.Context, req *settings.UpdateRequest) (*settings.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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

type mockQueue struct {
	mu        sync.Mutex
	published map[string]int
	connected bool
}

func (q *mockQueue) Publish(_ context.Context, subject string, _ []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.published == nil {
		q.published = make(map[string]int)
	}
	q.published[subject]++
	return nil
}

func (q *mockQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return q.connected }

type mockDB struct{ err error }

func (d *mockDB) Ping(context.Context) error { return d.err }

// fakeAgent is the agent provider the settings factory hands out once a key
// is saved through the API.
type fakeAgent struct{ verifyErr error }

func (a *fakeAgent) Launch(context.Context, *agentclient.LaunchRequest) (string, error) {
	return "bc_1", nil
}

func (a *fakeAgent) Status(context.Context, string) (*run.AgentSignal, error) {
	return &run.AgentSignal{State: run.AgentRunning}, nil
}

func (a *fakeAgent) Conversation(context.Context, string) ([]run.Message, error) { return nil, nil }
func (a *fakeAgent) Followup(context.Context, string, string) error              { return nil }
func (a *fakeAgent) Stop(context.Context, string) error                          { return nil }
func (a *fakeAgent) Verify(context.Context) error                                { return a.verifyErr }

type fakeBranches struct{ check gitsignal.RepoCheck }

func (b *fakeBranches) Status(context.Context, gitsignal.BranchRef) (*run.BranchSignal, error) {
	return &run.BranchSignal{Exists: true}, nil
}

func (b *fakeBranches) CheckRepo(context.Context, string, string) (*gitsignal.RepoCheck, error) {
	cp := b.check
	return &cp, nil
}

type testEnv struct {
	store    *mockStore
	queue    *mockQueue
	agent    *fakeAgent
	branches *fakeBranches
	router   chi.Router
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	store := newMockStore()
	queue := &mockQueue{connected: true}
	hub := ws.NewHub()
	clients := service.NewClients()
	overlay := service.NewOverlay(time.Minute)
	cfg := config.Defaults().Reconcile
	agent := &fakeAgent{}
	branches := &fakeBranches{check: gitsignal.RepoCheck{Accessible: true, FullName: "acme/widgets"}}

	reconcileSvc := service.NewReconcileService(store, queue, hub, clients, overlay, &cfg)
	scheduler := service.NewScheduler(reconcileSvc, store, &cfg)
	launchSvc := service.NewLaunchService(store, clients, reconcileSvc, &cfg)
	runSvc := service.NewRunService(store, clients, reconcileSvc, overlay)
	updateSvc := service.NewUpdateService(store, launchSvc, scheduler)
	repoSvc := service.NewRepoService(store, clients)
	settingsSvc := service.NewSettingsService(store, clients, service.ClientFactory{
		NewAgent: func(string) agentclient.Client { return agent },
		NewGitHub: func(context.Context, string) (gitsignal.BranchClient, gitsignal.PullRequestClient, error) {
			return branches, nil, nil
		},
	})

	handlers := cvhttp.NewHandlers(updateSvc, repoSvc, runSvc, settingsSvc, queue, &mockDB{}, "test")

	r := chi.NewRouter()
	cvhttp.MountRoutes(r, handlers, hub, settingsSvc.WebhookSecret)
	return &testEnv{store: store, queue: queue, agent: agent, branches: branches, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndListRepos(t *testing.T) {
	env := setup(t)

	rec := env.do(t, http.MethodPost, "/api/v1/repos", repo.CreateRequest{
		Name:        "widgets",
		GitHubLinks: []string{"https://github.com/acme/widgets"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/repos", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	var repos []repo.Repo
	if err := json.Unmarshal(rec.Body.Bytes(), &repos); err != nil {
		t.Fatal(err)
	}
	if len(repos) != 1 || repos[0].Name != "widgets" {
		t.Errorf("repos = %+v", repos)
	}
}

func TestCreateRepoValidation(t *testing.T) {
	env := setup(t)

	rec := env.do(t, http.MethodPost, "/api/v1/repos", repo.CreateRequest{Name: ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing name = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/repos", repo.CreateRequest{
		Name:        "bad",
		GitHubLinks: []string{"not a url"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad link = %d, want 400", rec.Code)
	}
}

func TestGetRunNotFound(t *testing.T) {
	env := setup(t)
	rec := env.do(t, http.MethodGet, "/api/v1/runs/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRunActionEndpoint(t *testing.T) {
	env := setup(t)
	env.store.updates["u1"] = &update.Update{ID: "u1", Status: update.StatusInProgress}
	env.store.runs["r1"] = &run.Run{ID: "r1", UpdateID: "u1", RepoID: "repo1", Status: run.StatusReadyToMerge}

	rec := env.do(t, http.MethodPost, "/api/v1/runs/r1/actions", map[string]string{"action": "mark_merged"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var r run.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatal(err)
	}
	if !r.PRMerged || r.Status != run.StatusComplete {
		t.Errorf("run = %+v", r)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/runs/r1/actions", map[string]string{"action": "explode"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown action = %d, want 400", rec.Code)
	}
}

func TestPatchRunEndpoint(t *testing.T) {
	env := setup(t)
	env.store.updates["u1"] = &update.Update{ID: "u1", Status: update.StatusInProgress}
	env.store.runs["r1"] = &run.Run{ID: "r1", UpdateID: "u1", RepoID: "repo1", Status: run.StatusInProgress}

	rec := env.do(t, http.MethodPatch, "/api/v1/runs/r1", map[string]string{"pr_url": "https://github.com/acme/widgets/pull/5"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var r run.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatal(err)
	}
	if r.PRURL != "https://github.com/acme/widgets/pull/5" || !r.PinnedField(run.FieldPRURL) {
		t.Errorf("run = %+v", r)
	}
}

func TestFollowupWithoutAgentClient(t *testing.T) {
	env := setup(t)
	env.store.updates["u1"] = &update.Update{ID: "u1", Status: update.StatusInProgress}
	env.store.runs["r1"] = &run.Run{ID: "r1", UpdateID: "u1", RepoID: "repo1", Status: run.StatusInProgress, AgentID: "bc_1"}

	rec := env.do(t, http.MethodPost, "/api/v1/runs/r1/followup", map[string]string{"text": "hello"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when no credential is configured", rec.Code)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	env := setup(t)

	rec := env.do(t, http.MethodPut, "/api/v1/settings", map[string]string{"agent_api_key": "key_123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("put = %d: %s", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}
	var resp settings.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.HasAgentAPIKey || resp.GitHubConnected {
		t.Errorf("response = %+v", resp)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("key_123")) {
		t.Error("settings response leaked the credential")
	}
}

func TestTestConnectionEndpoint(t *testing.T) {
	env := setup(t)

	rec := env.do(t, http.MethodPost, "/api/v1/settings/test-connection", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Success || !strings.Contains(resp.Message, "not connected") {
		t.Errorf("without credential = %+v", resp)
	}

	rec = env.do(t, http.MethodPut, "/api/v1/settings", map[string]string{"agent_api_key": "key_123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("put = %d: %s", rec.Code, rec.Body)
	}
	rec = env.do(t, http.MethodPost, "/api/v1/settings/test-connection", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Errorf("with credential = %+v", resp)
	}

	env.agent.verifyErr = errors.New("401 unauthorized")
	rec = env.do(t, http.MethodPost, "/api/v1/settings/test-connection", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Success || !strings.Contains(resp.Message, "401") {
		t.Errorf("rejected credential = %+v", resp)
	}
}

func TestCheckRepoEndpoint(t *testing.T) {
	env := setup(t)

	rec := env.do(t, http.MethodPost, "/api/v1/repos/check", map[string]string{"url": "https://github.com/acme/widgets"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("without token = %d, want 503", rec.Code)
	}

	rec = env.do(t, http.MethodPut, "/api/v1/settings", map[string]string{"github_token": "ghp_123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("put = %d: %s", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/repos/check", map[string]string{"url": "https://github.com/acme/widgets"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var check gitsignal.RepoCheck
	if err := json.Unmarshal(rec.Body.Bytes(), &check); err != nil {
		t.Fatal(err)
	}
	if !check.Accessible || check.FullName != "acme/widgets" {
		t.Errorf("check = %+v", check)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/repos/check", map[string]string{"url": "https://gitlab.com/acme/widgets"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-github url = %d, want 400", rec.Code)
	}
}

func webhookBody() []byte {
	return []byte(`{"event":"statusChange","id":"bc_1","status":"FINISHED","target":{"branchName":"cursor/x","prUrl":"https://github.com/acme/widgets/pull/9"},"summary":"done"}`)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookSignatureVerification(t *testing.T) {
	env := setup(t)
	env.store.settings.WebhookSecret = "whsec_123"
	body := webhookBody()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/agent", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", sign("whsec_123", body))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("valid signature = %d: %s", rec.Code, rec.Body)
	}
	if env.queue.published[messagequeue.SubjectAgentWebhook] != 1 {
		t.Error("verified webhook not published to the queue")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/webhooks/agent", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", sign("wrong-secret", body))
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("invalid signature = %d, want 401", rec.Code)
	}
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	env := setup(t)
	body := []byte(`{"event":"agentCreated","id":"bc_1"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/agent", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if env.queue.published[messagequeue.SubjectAgentWebhook] != 0 {
		t.Error("non-statusChange event was published")
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := setup(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d: %s", rec.Code, rec.Body)
	}
}

func TestVersionEndpoint(t *testing.T) {
	env := setup(t)
	rec := env.do(t, http.MethodGet, "/version", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["version"] != "test" {
		t.Errorf("version = %q", body["version"])
	}
}
