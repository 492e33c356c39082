package impl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ragforge/metrics"
	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

const (
	defaultMaxConcurrentOps = 3
	defaultMaxQueueSize     = 100
	defaultOperationTimeout = time.Hour
	defaultTickInterval     = time.Second
	recentSampleSize        = 10
	queuePreviewLimit       = 5
	baseSecondsPerDocument  = 2.0
	baseOperationOverhead   = 30.0
)

// priorityDequeueOrder lists priorities from most to least urgent. The
// scheduler drains queues in this order, FIFO within each.
var priorityDequeueOrder = []models.OperationPriority{
	models.PriorityUrgent,
	models.PriorityHigh,
	models.PriorityNormal,
	models.PriorityLow,
}

type queuedOperation struct {
	operationID string
	botID       uuid.UUID
	userID      uuid.UUID
	opts        models.ReprocessOptions
	priority    models.OperationPriority
	docCount    int
	queuedAt    time.Time
}

type runningOperation struct {
	op        *queuedOperation
	cancel    context.CancelFunc
	startedAt time.Time
}

// queueServiceImpl runs the four-level priority scheduler over the
// reprocessing pipeline. A single background goroutine ticks every second,
// launching queued work while capacity allows; workers finalize their own
// reports into the completed map.
type queueServiceImpl struct {
	reprocess services.ReprocessService
	documents services.DocumentStore
	metrics   *metrics.Metrics

	maxConcurrent int
	maxQueueSize  int
	opTimeout     time.Duration
	tickInterval  time.Duration

	mu              sync.Mutex
	status          models.QueueStatus
	queues          map[models.OperationPriority][]*queuedOperation
	running         map[string]*runningOperation
	completed       map[string]*models.ReprocessReport
	known           map[string]bool
	stats           models.QueueStatistics
	recentDurations []float64
	recentWaits     []float64

	schedulerCancel context.CancelFunc
	schedulerDone   chan struct{}
	workers         sync.WaitGroup
}

// QueueConfig tunes the scheduler. Zero values fall back to the documented
// defaults (3 concurrent, 100 queued, 1 h timeout, 1 s tick).
type QueueConfig struct {
	MaxConcurrent    int
	MaxQueueSize     int
	OperationTimeout time.Duration
	TickInterval     time.Duration
}

func NewQueueService(reprocess services.ReprocessService, documents services.DocumentStore, m *metrics.Metrics, cfg QueueConfig) services.QueueService {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrentOps
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = defaultMaxQueueSize
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if m == nil {
		m = metrics.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &queueServiceImpl{
		reprocess:       reprocess,
		documents:       documents,
		metrics:         m,
		maxConcurrent:   cfg.MaxConcurrent,
		maxQueueSize:    cfg.MaxQueueSize,
		opTimeout:       cfg.OperationTimeout,
		tickInterval:    cfg.TickInterval,
		status:          models.QueueStatusActive,
		queues:          make(map[models.OperationPriority][]*queuedOperation),
		running:         make(map[string]*runningOperation),
		completed:       make(map[string]*models.ReprocessReport),
		known:           make(map[string]bool),
		schedulerCancel: cancel,
		schedulerDone:   make(chan struct{}),
	}
	go s.schedule(ctx)
	return s
}

func (s *queueServiceImpl) Enqueue(ctx context.Context, botID uuid.UUID, userID uuid.UUID, opts models.ReprocessOptions, priority models.OperationPriority) (*models.EnqueueReceipt, error) {
	if err := ValidateReprocessOptions(opts).AsError(); err != nil {
		return nil, err
	}

	docCount, err := s.documents.CountDocuments(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents for bot %s: %w", botID, err)
	}

	operationID := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == models.QueueStatusShuttingDown {
		return nil, models.NewConflictError("queue is shutting down, not accepting operations")
	}
	if s.queuedLocked() >= s.maxQueueSize {
		return nil, models.NewConflictError(fmt.Sprintf("operation queue is full (%d operations)", s.maxQueueSize))
	}
	if s.known[operationID] {
		return nil, models.NewConflictError(fmt.Sprintf("operation %s already exists", operationID))
	}

	op := &queuedOperation{
		operationID: operationID,
		botID:       botID,
		userID:      userID,
		opts:        opts,
		priority:    priority,
		docCount:    docCount,
		queuedAt:    time.Now().UTC(),
	}
	s.queues[priority] = append(s.queues[priority], op)
	s.known[operationID] = true
	s.stats.TotalOperations++
	s.metrics.QueueDepth.WithLabelValues(priority.String()).Inc()

	s.reprocess.Register(operationID, botID, docCount)

	receipt := &models.EnqueueReceipt{
		OperationID:       operationID,
		BotID:             botID,
		Priority:          priority,
		QueuePosition:     s.positionLocked(op),
		EstimatedDuration: s.estimateDurationLocked(docCount),
		EstimatedWait:     s.estimateWaitLocked(op),
	}
	log.Printf("[QUEUE] enqueued operation %s for bot %s (priority=%s position=%d docs=%d)",
		operationID, botID, priority, receipt.QueuePosition, docCount)
	return receipt, nil
}

func (s *queueServiceImpl) GetOperation(operationID string) (*models.OperationProgress, *models.ReprocessReport, bool) {
	s.mu.Lock()
	report := s.completed[operationID]
	exists := s.known[operationID]
	s.mu.Unlock()

	if !exists {
		return nil, nil, false
	}
	progress, _ := s.reprocess.Progress(operationID)
	return progress, report, true
}

func (s *queueServiceImpl) Cancel(operationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.known[operationID] {
		return models.NewNotFoundError("operation", operationID)
	}
	if _, done := s.completed[operationID]; done {
		return models.NewConflictError(fmt.Sprintf("operation %s already finished", operationID))
	}

	// Still queued: drop it and record a terminal report directly.
	for priority, queue := range s.queues {
		for i, op := range queue {
			if op.operationID != operationID {
				continue
			}
			s.queues[priority] = append(queue[:i], queue[i+1:]...)
			s.completed[operationID] = &models.ReprocessReport{
				OperationID:    operationID,
				BotID:          op.botID,
				Status:         models.OperationCancelled,
				TotalDocuments: op.docCount,
				CancelledDocs:  op.docCount,
				CompletedAt:    time.Now().UTC(),
			}
			s.stats.CancelledOperations++
			s.metrics.QueueDepth.WithLabelValues(priority.String()).Dec()
			s.metrics.OperationsTotal.WithLabelValues(string(models.OperationCancelled)).Inc()
			log.Printf("[QUEUE] cancelled queued operation %s", operationID)
			return nil
		}
	}

	// Running: signal the worker; it finalizes its own report.
	if r, ok := s.running[operationID]; ok {
		r.cancel()
		log.Printf("[QUEUE] cancellation signalled to running operation %s", operationID)
		return nil
	}

	return models.NewConflictError(fmt.Sprintf("operation %s is not cancellable", operationID))
}

func (s *queueServiceImpl) Status() models.QueueSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshStatsLocked()

	depths := make(map[string]int, len(priorityDequeueOrder))
	previews := make(map[string][]models.QueuedOperationPreview, len(priorityDequeueOrder))
	for _, priority := range priorityDequeueOrder {
		queue := s.queues[priority]
		depths[priority.String()] = len(queue)
		items := make([]models.QueuedOperationPreview, 0, queuePreviewLimit)
		for i, op := range queue {
			if i >= queuePreviewLimit {
				break
			}
			items = append(items, models.QueuedOperationPreview{
				OperationID: op.operationID,
				BotID:       op.botID,
				Priority:    op.priority,
				QueuedAt:    op.queuedAt,
			})
		}
		previews[priority.String()] = items
	}

	now := time.Now()
	runningInfos := make([]models.RunningOperationInfo, 0, len(s.running))
	for id, r := range s.running {
		info := models.RunningOperationInfo{
			OperationID: id,
			BotID:       r.op.botID,
			StartedAt:   r.startedAt,
			Elapsed:     now.Sub(r.startedAt).Seconds(),
		}
		if progress, ok := s.reprocess.Progress(id); ok {
			info.Phase = progress.Phase
		}
		runningInfos = append(runningInfos, info)
	}

	return models.QueueSnapshot{
		Status:     s.status,
		Depths:     depths,
		Previews:   previews,
		Running:    runningInfos,
		Statistics: s.stats,
	}
}

func (s *queueServiceImpl) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == models.QueueStatusActive {
		s.status = models.QueueStatusPaused
		log.Printf("[QUEUE] paused")
	}
}

func (s *queueServiceImpl) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == models.QueueStatusPaused {
		s.status = models.QueueStatusActive
		log.Printf("[QUEUE] resumed")
	}
}

func (s *queueServiceImpl) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.status = models.QueueStatusShuttingDown
	s.schedulerCancel()

	// Queued work will never run; give it a terminal answer now.
	for priority, queue := range s.queues {
		for _, op := range queue {
			s.completed[op.operationID] = &models.ReprocessReport{
				OperationID:    op.operationID,
				BotID:          op.botID,
				Status:         models.OperationCancelled,
				TotalDocuments: op.docCount,
				CancelledDocs:  op.docCount,
				CompletedAt:    time.Now().UTC(),
			}
			s.stats.CancelledOperations++
			s.metrics.QueueDepth.WithLabelValues(priority.String()).Dec()
			s.metrics.OperationsTotal.WithLabelValues(string(models.OperationCancelled)).Inc()
		}
		s.queues[priority] = nil
	}
	for _, r := range s.running {
		r.cancel()
	}
	s.mu.Unlock()

	<-s.schedulerDone

	finished := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		log.Printf("[QUEUE] shutdown complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue shutdown interrupted with operations still running: %w", ctx.Err())
	}
}

// schedule is the background loop: launch while capacity allows, refresh
// statistics, once per tick.
func (s *queueServiceImpl) schedule(ctx context.Context) {
	defer close(s.schedulerDone)
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *queueServiceImpl) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.status == models.QueueStatusActive && len(s.running) < s.maxConcurrent {
		op := s.dequeueLocked()
		if op == nil {
			break
		}
		s.launchLocked(op)
	}
	s.refreshStatsLocked()
}

// dequeueLocked pops the head of the highest-priority non-empty queue.
func (s *queueServiceImpl) dequeueLocked() *queuedOperation {
	for _, priority := range priorityDequeueOrder {
		queue := s.queues[priority]
		if len(queue) == 0 {
			continue
		}
		op := queue[0]
		s.queues[priority] = queue[1:]
		s.metrics.QueueDepth.WithLabelValues(priority.String()).Dec()
		return op
	}
	return nil
}

func (s *queueServiceImpl) launchLocked(op *queuedOperation) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	r := &runningOperation{op: op, cancel: cancel, startedAt: time.Now()}
	s.running[op.operationID] = r
	s.metrics.RunningOperations.Inc()

	waited := r.startedAt.Sub(op.queuedAt).Seconds()
	log.Printf("[QUEUE] launching operation %s (priority=%s waited=%.1fs)", op.operationID, op.priority, waited)

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		defer cancel()

		report, err := s.reprocess.Run(ctx, op.operationID, op.botID, op.userID, op.opts)
		if report == nil {
			report = &models.ReprocessReport{
				OperationID: op.operationID,
				BotID:       op.botID,
				Status:      models.OperationFailed,
				CompletedAt: time.Now().UTC(),
			}
			if err != nil {
				report.Errors = []models.OperationError{{ErrorType: "operation_error", Error: err.Error()}}
			}
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && report.Status != models.OperationCompleted {
			report.TimedOut = true
			report.Status = models.OperationFailed
			log.Printf("[QUEUE] operation %s exceeded the %s timeout", op.operationID, s.opTimeout)
		}
		s.finalize(op, r, report, waited)
	}()
}

// finalize moves a finished worker's report into the completed map and
// updates the rolling samples behind the estimates.
func (s *queueServiceImpl) finalize(op *queuedOperation, r *runningOperation, report *models.ReprocessReport, waited float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, op.operationID)
	s.completed[op.operationID] = report
	s.metrics.RunningOperations.Dec()

	switch report.Status {
	case models.OperationCompleted:
		s.stats.CompletedOperations++
	case models.OperationCancelled:
		s.stats.CancelledOperations++
	default:
		s.stats.FailedOperations++
	}

	s.recentDurations = appendSample(s.recentDurations, time.Since(r.startedAt).Seconds())
	s.recentWaits = appendSample(s.recentWaits, waited)
	s.refreshStatsLocked()
}

func (s *queueServiceImpl) refreshStatsLocked() {
	s.stats.QueuedOperations = s.queuedLocked()
	s.stats.RunningOperations = len(s.running)
	s.stats.AvgProcessingTime = average(s.recentDurations)
	s.stats.AvgWaitTime = average(s.recentWaits)
	s.stats.Utilization = float64(len(s.running)) / float64(s.maxConcurrent)
}

func (s *queueServiceImpl) queuedLocked() int {
	total := 0
	for _, queue := range s.queues {
		total += len(queue)
	}
	return total
}

// positionLocked is the op's place in dequeue order, 1-based.
func (s *queueServiceImpl) positionLocked(op *queuedOperation) int {
	position := 1
	for _, priority := range priorityDequeueOrder {
		for _, queued := range s.queues[priority] {
			if queued.operationID == op.operationID {
				return position
			}
			position++
		}
	}
	return position
}

// estimateDurationLocked blends the doc-count heuristic with the average of
// recently observed processing times.
func (s *queueServiceImpl) estimateDurationLocked(docCount int) float64 {
	base := float64(docCount)*baseSecondsPerDocument + baseOperationOverhead
	if avg := average(s.recentDurations); avg > 0 {
		return (base + avg) / 2
	}
	return base
}

// estimateWaitLocked projects time until launch from the number of
// equal-or-higher-priority operations ahead and the observed throughput.
func (s *queueServiceImpl) estimateWaitLocked(op *queuedOperation) float64 {
	ahead := 0
	for _, priority := range priorityDequeueOrder {
		if priority < op.priority {
			continue
		}
		for _, queued := range s.queues[priority] {
			if queued.operationID == op.operationID {
				continue
			}
			ahead++
		}
	}
	if ahead == 0 && len(s.running) < s.maxConcurrent {
		return 0
	}

	avg := average(s.recentDurations)
	if avg == 0 {
		avg = s.estimateDurationLocked(op.docCount)
	}
	lanes := ahead
	if lanes > s.maxConcurrent {
		lanes = s.maxConcurrent
	}
	if lanes == 0 {
		lanes = 1
	}
	return float64(ahead) * avg / float64(lanes)
}

func appendSample(samples []float64, value float64) []float64 {
	samples = append(samples, value)
	if len(samples) > recentSampleSize {
		samples = samples[len(samples)-recentSampleSize:]
	}
	return samples
}

func average(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}
