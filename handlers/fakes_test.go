package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

// stubBots is a map-backed BotStore.
type stubBots struct {
	bots map[uuid.UUID]*models.Bot
	err  error
}

var _ services.BotStore = (*stubBots)(nil)

func newStubBots() *stubBots {
	return &stubBots{bots: make(map[uuid.UUID]*models.Bot)}
}

func (s *stubBots) add(bot *models.Bot) *models.Bot {
	if bot.ID == uuid.Nil {
		bot.ID = uuid.New()
	}
	s.bots[bot.ID] = bot
	return bot
}

func (s *stubBots) GetBot(ctx context.Context, id uuid.UUID) (*models.Bot, error) {
	if s.err != nil {
		return nil, s.err
	}
	bot, ok := s.bots[id]
	if !ok {
		return nil, models.NewNotFoundError("bot", id)
	}
	return bot, nil
}

// stubHybrid serves a canned response and records the request it received.
type stubHybrid struct {
	resp *models.HybridResponse
	err  error
	got  *models.HybridQueryRequest
}

var _ services.HybridService = (*stubHybrid)(nil)

func (s *stubHybrid) AnswerQuery(ctx context.Context, req models.HybridQueryRequest) (*models.HybridResponse, error) {
	s.got = &req
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

// stubThresholds serves canned recommendations. The policy methods return
// zero values; the handlers never call them.
type stubThresholds struct {
	recs    []models.ThresholdRecommendation
	err     error
	gotDays int
}

var _ services.ThresholdService = (*stubThresholds)(nil)

func (s *stubThresholds) GetProviderConfig(provider string) models.ProviderThresholdConfig {
	return models.ProviderThresholdConfig{}
}

func (s *stubThresholds) GetOptimalThreshold(provider, model string, contentType models.ContentType, corpusSize int, avgDocLength float64) float64 {
	return 0
}

func (s *stubThresholds) GetRetryThresholds(provider string, initial *float64) []*float64 {
	return nil
}

func (s *stubThresholds) LogPerformance(ctx context.Context, entry models.ThresholdPerformanceLog) error {
	return nil
}

func (s *stubThresholds) GetRecommendations(ctx context.Context, botID uuid.UUID, provider, model string, days int) ([]models.ThresholdRecommendation, error) {
	s.gotDays = days
	if s.err != nil {
		return nil, s.err
	}
	return s.recs, nil
}

// stubQueue records scheduler calls and serves canned results.
type stubQueue struct {
	receipt     *models.EnqueueReceipt
	enqueueErr  error
	gotBotID    uuid.UUID
	gotUserID   uuid.UUID
	gotOpts     models.ReprocessOptions
	gotPriority models.OperationPriority

	progress map[string]*models.OperationProgress
	reports  map[string]*models.ReprocessReport

	cancelErr error
	cancelled []string

	snapshot models.QueueSnapshot
	paused   int
	resumed  int
}

var _ services.QueueService = (*stubQueue)(nil)

func newStubQueue() *stubQueue {
	return &stubQueue{
		progress: make(map[string]*models.OperationProgress),
		reports:  make(map[string]*models.ReprocessReport),
	}
}

func (s *stubQueue) Enqueue(ctx context.Context, botID uuid.UUID, userID uuid.UUID, opts models.ReprocessOptions, priority models.OperationPriority) (*models.EnqueueReceipt, error) {
	s.gotBotID = botID
	s.gotUserID = userID
	s.gotOpts = opts
	s.gotPriority = priority
	if s.enqueueErr != nil {
		return nil, s.enqueueErr
	}
	return s.receipt, nil
}

func (s *stubQueue) GetOperation(operationID string) (*models.OperationProgress, *models.ReprocessReport, bool) {
	progress, ok := s.progress[operationID]
	if !ok {
		return nil, nil, false
	}
	return progress, s.reports[operationID], true
}

func (s *stubQueue) Cancel(operationID string) error {
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.cancelled = append(s.cancelled, operationID)
	return nil
}

func (s *stubQueue) Status() models.QueueSnapshot { return s.snapshot }

func (s *stubQueue) Pause() { s.paused++ }

func (s *stubQueue) Resume() { s.resumed++ }

func (s *stubQueue) Shutdown(ctx context.Context) error { return nil }

// stubSnapshotSvc serves canned snapshot, integrity and rollback results and
// records the arguments the handlers pass through.
type stubSnapshotSvc struct {
	snapshot  *models.Snapshot
	createErr error
	gotOpID   string

	list    []*models.Snapshot
	listErr error

	results     map[string]*models.IntegrityResult
	verifyErr   error
	gotChecks   []string
	gotDetailed bool

	plan       *models.RollbackPlan
	planErr    error
	gotPlanID  string

	report    *models.RollbackReport
	execErr   error
	gotExecID string
}

var _ services.SnapshotService = (*stubSnapshotSvc)(nil)

func (s *stubSnapshotSvc) CreateSnapshot(ctx context.Context, botID uuid.UUID, operationID string) (*models.Snapshot, error) {
	s.gotOpID = operationID
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.snapshot, nil
}

func (s *stubSnapshotSvc) GetSnapshot(ctx context.Context, snapshotID string) (*models.Snapshot, error) {
	return nil, models.NewNotFoundError("snapshot", snapshotID)
}

func (s *stubSnapshotSvc) ListSnapshots(ctx context.Context, botID uuid.UUID) ([]*models.Snapshot, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.list, nil
}

func (s *stubSnapshotSvc) VerifyIntegrity(ctx context.Context, botID uuid.UUID, checks []string, detailed bool) (map[string]*models.IntegrityResult, error) {
	s.gotChecks = checks
	s.gotDetailed = detailed
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return s.results, nil
}

func (s *stubSnapshotSvc) PlanRollback(ctx context.Context, botID uuid.UUID, snapshotID string) (*models.RollbackPlan, error) {
	s.gotPlanID = snapshotID
	if s.planErr != nil {
		return nil, s.planErr
	}
	return s.plan, nil
}

func (s *stubSnapshotSvc) ExecuteRollback(ctx context.Context, botID uuid.UUID, snapshotID string) (*models.RollbackReport, error) {
	s.gotExecID = snapshotID
	if s.execErr != nil {
		return nil, s.execErr
	}
	return s.report, nil
}

func (s *stubSnapshotSvc) PurgeExpired(ctx context.Context) (int, error) { return 0, nil }

type handlerFixture struct {
	bots      *stubBots
	hybrid    *stubHybrid
	threshold *stubThresholds
	queue     *stubQueue
	snapshots *stubSnapshotSvc
	router    *gin.Engine
	bot       *models.Bot
	owner     uuid.UUID
}

// setupHandlers wires the handler groups into the server's route table behind
// a middleware that reads the caller identity from test headers, mirroring
// what the jwt middleware sets on real requests.
func setupHandlers(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &handlerFixture{
		bots:      newStubBots(),
		hybrid:    &stubHybrid{},
		threshold: &stubThresholds{},
		queue:     newStubQueue(),
		snapshots: &stubSnapshotSvc{},
		owner:     uuid.New(),
	}
	f.bot = f.bots.add(&models.Bot{
		OwnerID:           f.owner,
		Name:              "support bot",
		EmbeddingProvider: "openai",
		EmbeddingModel:    "text-embedding-3-small",
	})

	hybridHandlers := NewHybridHandlers(f.hybrid, f.threshold, f.bots)
	operationsHandlers := NewOperationsHandlers(f.queue, f.bots)
	snapshotHandlers := NewSnapshotHandlers(f.snapshots, f.bots)

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.Use(func(c *gin.Context) {
		if user := c.GetHeader("X-Test-User"); user != "" {
			c.Set("user_id", user)
		}
		if role := c.GetHeader("X-Test-Role"); role != "" {
			c.Set("role", role)
		}
		c.Next()
	})

	bots := v1.Group("/bots")
	bots.POST("/:bot_id/query", hybridHandlers.AnswerQuery)
	bots.GET("/:bot_id/threshold-recommendations", hybridHandlers.GetThresholdRecommendations)
	bots.POST("/:bot_id/reprocess", operationsHandlers.Reprocess)
	bots.POST("/:bot_id/snapshots", snapshotHandlers.CreateSnapshot)
	bots.GET("/:bot_id/snapshots", snapshotHandlers.ListSnapshots)
	bots.POST("/:bot_id/integrity/verify", snapshotHandlers.VerifyIntegrity)
	bots.POST("/:bot_id/rollback", snapshotHandlers.Rollback)

	operations := v1.Group("/operations")
	operations.GET("", operationsHandlers.QueueStatus)
	operations.POST("/pause", operationsHandlers.PauseQueue)
	operations.POST("/resume", operationsHandlers.ResumeQueue)
	operations.GET("/:operation_id", operationsHandlers.GetOperation)
	operations.DELETE("/:operation_id", operationsHandlers.CancelOperation)

	f.router = router
	return f
}

// do performs a request as the given identity. An empty user leaves the
// request unauthenticated; an empty role omits the role key.
func (f *handlerFixture) do(t *testing.T, method, path, user, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	if role != "" {
		req.Header.Set("X-Test-Role", role)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *handlerFixture) asOwner(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, method, path, f.owner.String(), "user", body)
}

func (f *handlerFixture) botPath(suffix string) string {
	return "/api/v1/bots/" + f.bot.ID.String() + suffix
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}
