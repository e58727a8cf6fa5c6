package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"

	"github.com/dormitricity/orchestrator/internal/alert"
	"github.com/dormitricity/orchestrator/internal/api"
	"github.com/dormitricity/orchestrator/internal/auth"
	"github.com/dormitricity/orchestrator/internal/notify"
	"github.com/dormitricity/orchestrator/internal/scheduler"
	"github.com/dormitricity/orchestrator/internal/storage"
	"github.com/dormitricity/orchestrator/pkg/types"
)

// captureRunner records what the scheduler hands to the external runner,
// standing in for the GitHub Actions workflow dispatch.
type captureRunner struct {
	mu     sync.Mutex
	jobID  string
	token  string
}

func (r *captureRunner) Dispatch(_ context.Context, jobID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobID, r.token = jobID, token
	return nil
}

// PipelineSuite drives the whole orchestrator in-process: subscriptions
// enable targets, a scheduling cycle mints a job, a simulated crawler
// claims and ingests, and alerts land on a local webhook server.
type PipelineSuite struct {
	suite.Suite

	store   *storage.Store
	auth    *auth.Auth
	clock   *clockwork.FakeClock
	runner  *captureRunner
	router  *gin.Engine
	webhook *httptest.Server

	webhookMu    sync.Mutex
	webhookCalls []string
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	store, err := storage.NewStore(":memory:")
	s.Require().NoError(err)
	s.store = store

	s.webhookCalls = nil
	s.webhook = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Content struct {
				Text string `json:"text"`
			} `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		s.webhookMu.Lock()
		s.webhookCalls = append(s.webhookCalls, payload.Content.Text)
		s.webhookMu.Unlock()
		_, _ = w.Write([]byte(`{"code":0,"msg":"success"}`))
	}))

	s.auth = auth.New("actions-secret", "user-secret", "hash-key")
	s.clock = clockwork.NewFakeClockAt(time.Unix(1_000_000, 0))
	s.runner = &captureRunner{}

	dispatcher := notify.NewDispatcher()
	engine := alert.NewEngine(store, dispatcher, s.clock, 4)
	sched := scheduler.New(store, s.auth, s.runner, s.clock,
		10*time.Minute, 50, 10*time.Minute)

	handler := api.NewHandler(store, s.auth, engine, dispatcher, sched, nil, s.clock, api.Options{
		AdminToken:     "admin-secret",
		MaxSubsPerUser: 20,
		SliceLease:     8 * time.Minute,
	})

	s.router = gin.New()
	api.SetupRoutes(s.router, handler)
}

func (s *PipelineSuite) TearDownTest() {
	s.webhook.Close()
	s.Require().NoError(s.store.Close())
}

func (s *PipelineSuite) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		s.Require().NoError(err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *PipelineSuite) decode(w *httptest.ResponseRecorder) map[string]interface{} {
	var out map[string]interface{}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (s *PipelineSuite) TestFullCrawlCycle() {
	// A user subscribes to ten dorms, which enables ten crawl targets.
	w := s.do(http.MethodPost, "/auth/register", "",
		gin.H{"email": "alice@example.com", "password": "password123"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	userToken := s.decode(w)["token"].(string)

	hashedDirs := make([]string, 10)
	for i := 0; i < 10; i++ {
		w := s.do(http.MethodPost, "/subs", userToken,
			gin.H{"canonical_id": fmt.Sprintf("campus:1:2:%d", 300+i)})
		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
		hashedDirs[i] = s.decode(w)["hashed_dir"].(string)
	}

	// One alerting rule on the first dorm, pointed at the local webhook.
	w = s.do(http.MethodPut, "/subs/"+hashedDirs[0], userToken, gin.H{
		"threshold_kwh":  10.0,
		"cooldown_sec":   43200,
		"notify_channel": "feishu",
		"notify_token":   s.webhook.URL,
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	// A manual trigger mints one job covering all ten targets in a
	// single slice and hands it to the runner.
	w = s.do(http.MethodPost, "/trigger", "admin-secret", nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	jobID := s.decode(w)["job_id"].(string)
	s.Require().Equal(jobID, s.runner.jobID)
	s.Require().NotEmpty(s.runner.token)

	// The crawler claims with the token the runner received.
	w = s.do(http.MethodPost, "/crawler/claim", s.runner.token, types.ClaimRequest{JobID: jobID})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var claim types.ClaimResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &claim))
	s.Require().Len(claim.Targets, 10)
	s.Require().Equal(0, claim.SliceIndex)

	// No second slice to hand out.
	w = s.do(http.MethodPost, "/crawler/claim", s.runner.token, types.ClaimRequest{JobID: jobID})
	s.Require().Equal(http.StatusNoContent, w.Code)

	// The crawler reports readings for every target; dorm 0 is under the
	// alert threshold. One finished batch drives the job to DONE.
	readings := make([]types.Reading, len(claim.Targets))
	now := s.clock.Now().Unix()
	for i, tgt := range claim.Targets {
		kwh := 50.0
		if tgt.HashedDir == hashedDirs[0] {
			kwh = 3.0
		}
		readings[i] = types.Reading{HashedDir: tgt.HashedDir, TS: now, KWH: kwh}
	}

	w = s.do(http.MethodPost, "/crawler/ingest", s.runner.token, types.IngestRequest{
		JobID:      jobID,
		SliceIndex: claim.SliceIndex,
		Readings:   readings,
		Finished:   true,
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	body := s.decode(w)
	s.Require().Equal(float64(10), body["new_readings"])
	s.Require().Equal("DONE", body["job_status"])

	job, err := s.store.GetJob(context.Background(), jobID)
	s.Require().NoError(err)
	s.Require().Equal(types.JobDone, job.Status)
	s.Require().Equal(1, job.FinishedSlices)

	// The low-power alert reached the webhook exactly once.
	s.webhookMu.Lock()
	calls := append([]string(nil), s.webhookCalls...)
	s.webhookMu.Unlock()
	s.Require().Len(calls, 1)
	s.Require().Contains(calls[0], "campus:1:2:300")

	// The user sees the ingested history and the cached latest state.
	w = s.do(http.MethodGet, "/series/"+hashedDirs[0], userToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var series struct {
		Points []types.SeriesPoint `json:"points"`
		Latest *types.LatestState  `json:"latest"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &series))
	s.Require().Len(series.Points, 1)
	s.Require().NotNil(series.Latest)
	s.Require().Equal(3.0, series.Latest.LastKWH)
}

func (s *PipelineSuite) TestReplayedIngestIsIdempotent() {
	w := s.do(http.MethodPost, "/auth/register", "",
		gin.H{"email": "bob@example.com", "password": "password123"})
	s.Require().Equal(http.StatusOK, w.Code)
	userToken := s.decode(w)["token"].(string)

	w = s.do(http.MethodPost, "/subs", userToken, gin.H{"canonical_id": "campus:1:2:301"})
	s.Require().Equal(http.StatusOK, w.Code)
	hashedDir := s.decode(w)["hashed_dir"].(string)

	w = s.do(http.MethodPost, "/trigger", "admin-secret", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	jobID := s.decode(w)["job_id"].(string)

	batch := types.IngestRequest{
		JobID:    jobID,
		Readings: []types.Reading{{HashedDir: hashedDir, TS: s.clock.Now().Unix(), KWH: 42}},
		Finished: true,
	}

	w = s.do(http.MethodPost, "/crawler/ingest", s.runner.token, batch)
	s.Require().Equal(http.StatusOK, w.Code)
	first := s.decode(w)
	s.Require().Equal(float64(1), first["new_readings"])
	s.Require().Equal(true, first["slice_closed"])

	// The crawler retries the same batch after a timeout.
	w = s.do(http.MethodPost, "/crawler/ingest", s.runner.token, batch)
	s.Require().Equal(http.StatusOK, w.Code)
	second := s.decode(w)
	s.Require().Equal(float64(0), second["new_readings"])
	s.Require().Equal(float64(1), second["duplicate_readings"])
	s.Require().Equal(false, second["slice_closed"])
	s.Require().Equal("DONE", second["job_status"])

	job, err := s.store.GetJob(context.Background(), jobID)
	s.Require().NoError(err)
	s.Require().Equal(1, job.FinishedSlices)
}

func (s *PipelineSuite) TestFailuresProduceDoneWithErrors() {
	w := s.do(http.MethodPost, "/auth/register", "",
		gin.H{"email": "carol@example.com", "password": "password123"})
	s.Require().Equal(http.StatusOK, w.Code)
	userToken := s.decode(w)["token"].(string)

	w = s.do(http.MethodPost, "/subs", userToken, gin.H{"canonical_id": "campus:1:2:301"})
	s.Require().Equal(http.StatusOK, w.Code)
	hashedDir := s.decode(w)["hashed_dir"].(string)

	w = s.do(http.MethodPost, "/trigger", "admin-secret", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	jobID := s.decode(w)["job_id"].(string)

	w = s.do(http.MethodPost, "/crawler/ingest", s.runner.token, types.IngestRequest{
		JobID:    jobID,
		Failures: []types.CrawlFailure{{HashedDir: hashedDir, Reason: "captcha"}},
		Finished: true,
	})
	s.Require().Equal(http.StatusOK, w.Code)
	s.Require().Equal("DONE_WITH_ERRORS", s.decode(w)["job_status"])
}
