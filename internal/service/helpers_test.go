package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/digkill/PhotoForge/internal/config"
	"github.com/digkill/PhotoForge/internal/database"
	"github.com/digkill/PhotoForge/internal/models"
	"github.com/digkill/PhotoForge/internal/notify"
	"github.com/digkill/PhotoForge/internal/provider"
	"github.com/digkill/PhotoForge/internal/repository"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

type fakeProvider struct {
	name string

	mu         sync.Mutex
	submitErr  error
	onSubmit   func(ctx context.Context) error
	pollResult *provider.Result
	pollErr    error
	pollBlock  bool
	submitted  []provider.SubmitRequest
	polls      int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Submit(ctx context.Context, req provider.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	if f.onSubmit != nil {
		if err := f.onSubmit(ctx); err != nil {
			return "", err
		}
	}
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "T-" + uuid.NewString(), nil
}

func (f *fakeProvider) Poll(ctx context.Context, trackingID string) (*provider.Result, error) {
	f.mu.Lock()
	f.polls++
	block, res, err := f.pollBlock, f.pollResult, f.pollErr
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	out := *res
	out.TrackingID = trackingID
	return &out, nil
}

func (f *fakeProvider) ParseWebhook(body []byte) (*provider.Result, error) {
	var payload struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Output string `json:"output"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	if payload.ID == "" {
		return nil, errors.New("missing id")
	}
	return &provider.Result{TrackingID: payload.ID, Status: provider.Status(payload.Status), OutputURL: payload.Output, Error: payload.Error}, nil
}

func (f *fakeProvider) setPoll(res *provider.Result, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollResult, f.pollErr = res, err
}

func (f *fakeProvider) lastSubmit() provider.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted[len(f.submitted)-1]
}

// pollOnly hides ParseWebhook so the provider looks like one without callbacks.
type pollOnly struct{ p *fakeProvider }

func (p pollOnly) Name() string { return p.p.Name() }
func (p pollOnly) Submit(ctx context.Context, req provider.SubmitRequest) (string, error) {
	return p.p.Submit(ctx, req)
}
func (p pollOnly) Poll(ctx context.Context, id string) (*provider.Result, error) {
	return p.p.Poll(ctx, id)
}

type memStore struct {
	mu   sync.Mutex
	puts map[string][]byte
	n    int
	err  error
}

func (m *memStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.puts == nil {
		m.puts = map[string][]byte{}
	}
	m.puts[key] = data
	m.n++
	return "https://cdn.example.com/results/" + key, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n
}

type recordingNotifier struct {
	mu    sync.Mutex
	msgs  []string
	err   error
	stall bool // wait for ctx like an unreachable alert channel
}

func (r *recordingNotifier) Notify(ctx context.Context, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	stall, err := r.stall, r.err
	r.mu.Unlock()
	if stall {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

var _ notify.Notifier = (*recordingNotifier)(nil)

type testEnv struct {
	cfg        config.Config
	db         *sql.DB
	jobRepo    *repository.JobRepository
	accounts   *repository.AccountRepository
	provider   *fakeProvider
	kie        *fakeProvider
	store      *memStore
	notifier   *recordingNotifier
	artifacts  *httptest.Server
	finalizer  *Finalizer
	reconciler *Reconciler
	jobs       *JobService
	ledger     *LedgerService
	plans      *PlanService
	sweeper    *Sweeper
}

func testConfig() config.Config {
	return config.Config{
		GenerationProvider: "replicate",
		PaymentProvider:    "lemonsqueezy",
		PublicBaseURL:      "https://app.example.com",
		PollTimeout:        time.Second,
		PollAfter:          30 * time.Second,
		ArtifactTimeout:    5 * time.Second,
		ArtifactMaxBytes:   1 << 20,
		FinalizeLease:      5 * time.Minute,
		SweepConcurrency:   4,
		SweepBatchSize:     50,
		CreditsPerJob:      1,
		FreeTierEnabled:    true,
	}
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, dialect, err := database.Open(database.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, dialect))

	artifacts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/text":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("hello"))
		default:
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngBytes)
		}
	}))
	t.Cleanup(artifacts.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		cfg:       cfg,
		db:        db,
		jobRepo:   repository.NewJobRepository(db),
		accounts:  repository.NewAccountRepository(db, dialect),
		provider:  &fakeProvider{name: "replicate", pollResult: &provider.Result{Status: provider.StatusRunning}},
		kie:       &fakeProvider{name: "kie", pollResult: &provider.Result{Status: provider.StatusRunning}},
		store:     &memStore{},
		notifier:  &recordingNotifier{},
		artifacts: artifacts,
	}
	registry := provider.NewRegistry(env.provider, pollOnly{env.kie})
	env.finalizer = NewFinalizer(cfg, log, env.jobRepo, env.store)
	env.reconciler = NewReconciler(cfg, log, env.jobRepo, registry, env.finalizer)
	accountSvc := NewAccountService(env.accounts)
	env.jobs = NewJobService(cfg, log, env.jobRepo, accountSvc, registry, env.reconciler)
	env.plans = NewPlanService(repository.NewPlanRepository(db))
	env.ledger = NewLedgerService(cfg.PaymentProvider, log, env.accounts, env.plans, env.notifier)
	env.sweeper = NewSweeper(cfg, log, env.jobRepo, env.reconciler)
	return env
}

// processingJob submits a job for userID and returns it in the processing state.
func (e *testEnv) processingJob(t *testing.T, userID string) *models.Job {
	t.Helper()
	job, err := e.jobs.Submit(context.Background(), userID, SubmitInput{SourceURL: "https://uploads.example.com/in.jpg", Style: "studio"})
	require.NoError(t, err)
	require.Equal(t, models.JobStateProcessing, job.State)
	return job
}

func (e *testEnv) reload(t *testing.T, id string) *models.Job {
	t.Helper()
	job, err := e.jobRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func (e *testEnv) grantCredits(t *testing.T, userID string, credits int) {
	t.Helper()
	_, err := e.ledger.Apply(context.Background(), &models.FinancialEvent{
		Provider:    "lemonsqueezy",
		EventID:     "grant:" + uuid.NewString(),
		UserID:      userID,
		Kind:        models.EventPurchase,
		CreditDelta: &credits,
		Purchased:   false,
	})
	require.NoError(t, err)
}

func (e *testEnv) credits(t *testing.T, userID string) int {
	t.Helper()
	acct, err := e.accounts.Get(context.Background(), userID)
	require.NoError(t, err)
	if acct == nil {
		return 0
	}
	return acct.Credits
}

func webhookBody(trackingID, status, output, errMsg string) []byte {
	b, _ := json.Marshal(map[string]string{"id": trackingID, "status": status, "output": output, "error": errMsg})
	return b
}
