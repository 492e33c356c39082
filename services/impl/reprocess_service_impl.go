package impl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ragforge/metrics"
	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

const (
	defaultBatchSize          = 10
	defaultMaxConcurrentDocs  = 5
	defaultMaxDocAttempts     = 3
	defaultCheckpointInterval = 5
	documentAttemptTimeout    = 2 * time.Minute
	embedBatchLimit           = 100
	checkpointDirName         = "checkpoints"
	backupDirName             = "backups"
)

// reprocessServiceImpl re-chunks, re-embeds and re-indexes a bot's corpus
// through the phased pipeline: init, backup, processing, integrity, cleanup.
type reprocessServiceImpl struct {
	bots        services.BotStore
	documents   services.DocumentStore
	chunks      services.ChunkStore
	collections services.CollectionStore
	store       services.VectorStore
	processor   services.DocumentProcessor
	credentials services.CredentialService
	registry    services.ProviderRegistry
	snapshots   services.SnapshotService
	files       services.FileSource
	metrics     *metrics.Metrics

	dataDir            string
	checkpointInterval int
	maxConcurrentDocs  int
	maxAttempts        int
	retryDelay         func(attempt int) time.Duration

	mu       sync.Mutex
	progress map[string]*models.OperationProgress
}

// ReprocessConfig tunes the pipeline. Zero values fall back to the
// documented defaults.
type ReprocessConfig struct {
	DataDir            string
	CheckpointInterval int
	MaxConcurrentDocs  int
	MaxAttempts        int
}

func NewReprocessService(
	bots services.BotStore,
	documents services.DocumentStore,
	chunks services.ChunkStore,
	collections services.CollectionStore,
	store services.VectorStore,
	processor services.DocumentProcessor,
	credentials services.CredentialService,
	registry services.ProviderRegistry,
	snapshots services.SnapshotService,
	files services.FileSource,
	m *metrics.Metrics,
	cfg ReprocessConfig,
) services.ReprocessService {
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = defaultCheckpointInterval
	}
	if cfg.MaxConcurrentDocs <= 0 {
		cfg.MaxConcurrentDocs = defaultMaxConcurrentDocs
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxDocAttempts
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if m == nil {
		m = metrics.New()
	}
	return &reprocessServiceImpl{
		bots:               bots,
		documents:          documents,
		chunks:             chunks,
		collections:        collections,
		store:              store,
		processor:          processor,
		credentials:        credentials,
		registry:           registry,
		snapshots:          snapshots,
		files:              files,
		metrics:            m,
		dataDir:            cfg.DataDir,
		checkpointInterval: cfg.CheckpointInterval,
		maxConcurrentDocs:  cfg.MaxConcurrentDocs,
		maxAttempts:        cfg.MaxAttempts,
		retryDelay: func(attempt int) time.Duration {
			return time.Duration(2*(1<<attempt)) * time.Second
		},
		progress: make(map[string]*models.OperationProgress),
	}
}

func (s *reprocessServiceImpl) Register(operationID string, botID uuid.UUID, totalDocuments int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.progress[operationID]; exists {
		return
	}
	s.progress[operationID] = &models.OperationProgress{
		OperationID: operationID,
		BotID:       botID,
		Status:      models.OperationQueued,
		Phase:       models.PhaseInit,
		TotalDocs:   totalDocuments,
		QueuedAt:    time.Now().UTC(),
	}
}

func (s *reprocessServiceImpl) Progress(operationID string) (*models.OperationProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[operationID]
	if !ok {
		return nil, false
	}
	snapshot := *p
	return &snapshot, true
}

func (s *reprocessServiceImpl) Run(ctx context.Context, operationID string, botID uuid.UUID, userID uuid.UUID, opts models.ReprocessOptions) (*models.ReprocessReport, error) {
	started := time.Now()
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	report := &models.ReprocessReport{
		OperationID: operationID,
		BotID:       botID,
		Status:      models.OperationRunning,
		StartedAt:   started.UTC(),
	}

	bot, err := s.bots.GetBot(ctx, botID)
	if err != nil {
		return s.fail(report, started, fmt.Errorf("failed to load bot: %w", err))
	}

	docs, err := s.documents.ListDocuments(ctx, botID)
	if err != nil {
		return s.fail(report, started, fmt.Errorf("failed to list documents: %w", err))
	}
	report.TotalDocuments = len(docs)

	checkpoint := s.loadCheckpoint(operationID)
	skipDone := make(map[uuid.UUID]bool)
	if checkpoint != nil {
		log.Printf("[REPROCESS] resuming operation %s from checkpoint (phase %s, batch %d/%d)",
			operationID, checkpoint.Phase, checkpoint.CurrentBatch, checkpoint.TotalBatches)
		for _, id := range checkpoint.ProcessedIDs {
			skipDone[id] = true
		}
	}

	batches := splitBatches(docs, opts.BatchSize)
	s.update(operationID, func(p *models.OperationProgress) {
		p.Status = models.OperationRunning
		p.StartedAt = &started
		p.TotalDocs = len(docs)
		p.TotalBatches = len(batches)
		p.Options = opts
		p.RequestedBy = userID
	})

	// Phase 1: make sure the target collection exists with the right shape.
	s.enterPhase(operationID, models.PhaseInit)
	collectionName, err := s.ensureCollection(ctx, bot, opts.ForceRecreateCollection)
	if err != nil {
		return s.fail(report, started, err)
	}

	// Phase 2: capture a restore point before touching any data.
	s.enterPhase(operationID, models.PhaseBackup)
	backup, err := s.createBackup(ctx, operationID, botID, collectionName, len(docs))
	if err != nil {
		return s.fail(report, started, fmt.Errorf("backup failed, aborting: %w", err))
	}

	// Phase 3: re-process documents in batches.
	s.enterPhase(operationID, models.PhaseProcessing)
	results, cancelled := s.processAll(ctx, bot, collectionName, docs, batches, skipDone, userID, operationID, backup)
	report.DocumentResults = results
	for _, r := range results {
		report.ChunksProcessed += r.ChunksProcessed
		report.ChunksStored += r.ChunksStored
		switch {
		case r.Success:
			report.SuccessfulDocs++
		case r.ErrorType == "cancelled":
			report.CancelledDocs++
		default:
			report.FailedDocs++
			report.Errors = append(report.Errors, models.OperationError{
				DocumentID: r.DocumentID,
				ErrorType:  r.ErrorType,
				Error:      r.Error,
			})
		}
	}

	if cancelled {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			report.TimedOut = true
			return s.finish(report, started, models.OperationFailed), nil
		}
		return s.finish(report, started, models.OperationCancelled), nil
	}

	// Phase 4: verify the result before declaring victory.
	s.enterPhase(operationID, models.PhaseIntegrity)
	criticalFound := s.verifyIntegrity(ctx, botID, report)
	if criticalFound && opts.EnableRollback {
		s.performRollback(ctx, botID, backup, report)
		return s.finish(report, started, models.OperationFailed), nil
	}

	// Phase 5: drop working files and mark the collection active.
	s.enterPhase(operationID, models.PhaseCleanup)
	s.cleanup(ctx, operationID, botID, collectionName)

	status := models.OperationCompleted
	if report.FailedDocs > 0 && report.SuccessfulDocs == 0 {
		status = models.OperationFailed
	}
	return s.finish(report, started, status), nil
}

// processAll walks the batches, bounding per-batch document concurrency and
// writing checkpoints on cadence. A cancelled context stops dispatch between
// documents; in-flight documents run to completion.
func (s *reprocessServiceImpl) processAll(
	ctx context.Context,
	bot *models.Bot,
	collection string,
	docs []models.Document,
	batches [][]models.Document,
	skipDone map[uuid.UUID]bool,
	userID uuid.UUID,
	operationID string,
	backup *models.BackupRecord,
) ([]models.DocumentResult, bool) {
	results := make([]models.DocumentResult, 0, len(docs))
	var processedIDs, failedIDs []uuid.UUID
	cancelled := false

	for bi, batch := range batches {
		if ctx.Err() != nil {
			cancelled = true
			for _, doc := range remainingDocs(batches, bi) {
				results = append(results, cancelledResult(doc))
			}
			break
		}

		s.update(operationID, func(p *models.OperationProgress) {
			p.CurrentBatch = bi + 1
		})

		batchResults := s.processBatch(ctx, bot, collection, batch, skipDone, userID)
		for _, r := range batchResults {
			results = append(results, r)
			if r.Success {
				processedIDs = append(processedIDs, r.DocumentID)
			} else if r.ErrorType != "cancelled" {
				failedIDs = append(failedIDs, r.DocumentID)
			}
			s.update(operationID, func(p *models.OperationProgress) {
				p.ProcessedDocs++
				if r.Success {
					p.SuccessfulDocs++
				} else if r.ErrorType != "cancelled" {
					p.FailedDocs++
				}
			})
		}

		if (bi+1)%s.checkpointInterval == 0 {
			s.writeCheckpoint(&models.ReprocessCheckpoint{
				OperationID:   operationID,
				BotID:         bot.ID,
				Phase:         models.PhaseProcessing,
				ProcessedIDs:  processedIDs,
				FailedIDs:     failedIDs,
				CurrentBatch:  bi + 1,
				TotalBatches:  len(batches),
				BackupCreated: backup != nil,
				WrittenAt:     time.Now().UTC(),
			})
		}
	}

	return results, cancelled
}

// processBatch runs one batch with a bounded semaphore. Results keep the
// batch's document order.
func (s *reprocessServiceImpl) processBatch(ctx context.Context, bot *models.Bot, collection string, batch []models.Document, skipDone map[uuid.UUID]bool, userID uuid.UUID) []models.DocumentResult {
	results := make([]models.DocumentResult, len(batch))
	sem := make(chan struct{}, s.maxConcurrentDocs)
	var wg sync.WaitGroup

	for i := range batch {
		doc := batch[i]

		if skipDone[doc.ID] {
			results[i] = models.DocumentResult{
				DocumentID: doc.ID,
				Filename:   doc.Filename,
				Success:    true,
			}
			continue
		}
		if ctx.Err() != nil {
			results[i] = cancelledResult(doc)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, doc models.Document) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.processDocument(ctx, bot, collection, doc, userID)
		}(i, doc)
	}

	wg.Wait()
	return results
}

// processDocument retries the per-attempt pipeline with exponential backoff.
// Failures stay inside the result; they never abort the batch.
func (s *reprocessServiceImpl) processDocument(ctx context.Context, bot *models.Bot, collection string, doc models.Document, userID uuid.UUID) models.DocumentResult {
	start := time.Now()
	result := models.DocumentResult{DocumentID: doc.ID, Filename: doc.Filename}

	var lastErr error
	var lastType string
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.retryDelay(attempt - 1)):
			case <-ctx.Done():
				result.Attempts = attempt
				result.Error = "operation cancelled before retry"
				result.ErrorType = "cancelled"
				result.Duration = time.Since(start).Seconds()
				return result
			}
		}
		result.Attempts = attempt + 1

		processed, stored, errType, err := s.processAttempt(ctx, bot, collection, doc, userID)
		if err == nil {
			result.Success = true
			result.ChunksProcessed = processed
			result.ChunksStored = stored
			result.Duration = time.Since(start).Seconds()
			return result
		}
		lastErr, lastType = err, errType
		log.Printf("[REPROCESS] document %s attempt %d/%d failed: %v", doc.ID, attempt+1, s.maxAttempts, err)
	}

	result.Error = lastErr.Error()
	result.ErrorType = lastType
	result.Duration = time.Since(start).Seconds()
	return result
}

// processAttempt is one full pass over a document: wipe its chunks, re-read,
// re-chunk, re-embed in provider-sized batches, store rows and vectors with
// content-hash dedup, and update the claimed chunk count. Once started, the
// attempt runs to completion even if the operation is cancelled; cancellation
// gates dispatch, not in-flight work.
func (s *reprocessServiceImpl) processAttempt(ctx context.Context, bot *models.Bot, collection string, doc models.Document, userID uuid.UUID) (int, int, string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), documentAttemptTimeout)
	defer cancel()

	if _, err := s.chunks.DeleteChunksByDocument(ctx, doc.ID); err != nil {
		return 0, 0, "storage_error", fmt.Errorf("failed to delete existing chunks: %w", err)
	}

	data, err := s.files.ReadFile(ctx, doc.FilePath)
	if err != nil {
		return 0, 0, "processing_error", fmt.Errorf("failed to read document file: %w", err)
	}

	processedChunks, _, err := s.processor.Process(ctx, data, doc.Filename, doc.ID.String())
	if err != nil {
		return 0, 0, "processing_error", fmt.Errorf("failed to process document: %w", err)
	}
	if len(processedChunks) == 0 {
		if err := s.documents.UpdateChunkCount(ctx, doc.ID, 0); err != nil {
			return 0, 0, "storage_error", fmt.Errorf("failed to update chunk count: %w", err)
		}
		return 0, 0, "", nil
	}

	resolution, err := s.credentials.ResolveKey(ctx, doc.BotID, userID, bot.EmbeddingProvider)
	if err != nil {
		return 0, 0, "embedding_error", fmt.Errorf("failed to resolve embedding key: %w", err)
	}
	provider, ok := s.registry.Embedding(bot.EmbeddingProvider)
	if !ok {
		return 0, 0, "embedding_error", fmt.Errorf("no embedding provider registered for %q", bot.EmbeddingProvider)
	}

	texts := make([]string, len(processedChunks))
	for i, pc := range processedChunks {
		texts[i] = pc.Content
	}

	vectors := make([][]float32, 0, len(texts))
	for lo := 0; lo < len(texts); lo += embedBatchLimit {
		hi := lo + embedBatchLimit
		if hi > len(texts) {
			hi = len(texts)
		}
		batch, err := provider.GenerateEmbeddings(ctx, bot.EmbeddingModel, texts[lo:hi], resolution.Key)
		if err != nil {
			return 0, 0, "embedding_error", fmt.Errorf("failed to generate embeddings: %w", err)
		}
		vectors = append(vectors, batch...)
	}
	if len(vectors) != len(texts) {
		return 0, 0, "embedding_error", fmt.Errorf("provider returned %d vectors for %d chunks", len(vectors), len(texts))
	}

	stored, err := s.storeChunks(ctx, doc, processedChunks, vectors, collection)
	if err != nil {
		return len(processedChunks), 0, "storage_error", err
	}

	if err := s.documents.UpdateChunkCount(ctx, doc.ID, stored); err != nil {
		return len(processedChunks), stored, "storage_error", fmt.Errorf("failed to update chunk count: %w", err)
	}
	return len(processedChunks), stored, "", nil
}

// storeChunks persists chunk rows and vector points. Chunks whose content
// hash repeats within the document collapse to the first occurrence.
func (s *reprocessServiceImpl) storeChunks(ctx context.Context, doc models.Document, processed []models.ProcessedChunk, vectors [][]float32, collection string) (int, error) {
	rows := make([]models.DocumentChunk, 0, len(processed))
	points := make([]services.VectorPoint, 0, len(processed))
	seen := make(map[string]bool, len(processed))

	for i, pc := range processed {
		hash := models.HashContent(pc.Content)
		if seen[hash] {
			continue
		}
		seen[hash] = true

		id := uuid.New()
		rows = append(rows, models.DocumentChunk{
			ID:          id,
			DocumentID:  doc.ID,
			BotID:       doc.BotID,
			ChunkIndex:  pc.ChunkIndex,
			Content:     pc.Content,
			ContentHash: hash,
			EmbeddingID: id.String(),
			CreatedAt:   time.Now().UTC(),
		})
		points = append(points, services.VectorPoint{
			ID:     id.String(),
			Vector: vectors[i],
			Payload: map[string]interface{}{
				"document_id": doc.ID.String(),
				"bot_id":      doc.BotID.String(),
				"chunk_index": pc.ChunkIndex,
				"content":     pc.Content,
			},
		})
	}

	if err := s.chunks.InsertChunks(ctx, rows); err != nil {
		return 0, fmt.Errorf("failed to insert chunks: %w", err)
	}
	if err := s.store.Upsert(ctx, collection, points); err != nil {
		return 0, fmt.Errorf("failed to upsert vectors: %w", err)
	}
	return len(rows), nil
}

// ensureCollection validates the bot's embedding configuration and creates
// (or force-recreates) the vector collection for it.
func (s *reprocessServiceImpl) ensureCollection(ctx context.Context, bot *models.Bot, forceRecreate bool) (string, error) {
	provider, ok := s.registry.Embedding(bot.EmbeddingProvider)
	if !ok {
		return "", models.NewValidationError(fmt.Sprintf("no embedding provider registered for %q", bot.EmbeddingProvider))
	}
	dimension, err := provider.GetDimension(bot.EmbeddingModel)
	if err != nil {
		return "", models.NewValidationError(fmt.Sprintf("unknown embedding model %q for provider %q", bot.EmbeddingModel, bot.EmbeddingProvider))
	}

	collectionName := "bot_" + bot.ID.String()
	if meta, err := s.collections.GetCollectionMeta(ctx, bot.ID); err == nil {
		collectionName = meta.CollectionName
	}

	exists, err := s.store.CollectionExists(ctx, collectionName)
	if err != nil {
		return "", fmt.Errorf("failed to check collection %s: %w", collectionName, err)
	}

	if exists && forceRecreate {
		log.Printf("[REPROCESS] force-recreating collection %s", collectionName)
		if err := s.store.DeleteCollection(ctx, collectionName); err != nil {
			return "", fmt.Errorf("failed to delete collection %s: %w", collectionName, err)
		}
		exists = false
	}

	if !exists {
		if err := s.store.CreateCollection(ctx, collectionName, dimension); err != nil {
			return "", fmt.Errorf("failed to create collection %s: %w", collectionName, err)
		}
	}

	meta := &models.CollectionMetadata{
		BotID:              bot.ID,
		CollectionName:     collectionName,
		EmbeddingProvider:  bot.EmbeddingProvider,
		EmbeddingModel:     bot.EmbeddingModel,
		EmbeddingDimension: dimension,
		Status:             models.CollectionStatusMigrating,
	}
	if err := s.collections.UpsertCollectionMeta(ctx, meta); err != nil {
		return "", fmt.Errorf("failed to update collection metadata: %w", err)
	}
	return collectionName, nil
}

// createBackup prefers a full snapshot and degrades to a minimal count
// record when snapshot creation fails. Both are persisted so rollback and
// post-mortems can read them after a crash.
func (s *reprocessServiceImpl) createBackup(ctx context.Context, operationID string, botID uuid.UUID, collection string, docCount int) (*models.BackupRecord, error) {
	backup := &models.BackupRecord{
		OperationID: operationID,
		BotID:       botID,
		CreatedAt:   time.Now().UTC(),
	}

	snap, err := s.snapshots.CreateSnapshot(ctx, botID, operationID)
	if err != nil {
		log.Printf("[REPROCESS] snapshot failed for operation %s, writing minimal backup: %v", operationID, err)
		backup.Minimal = true
		backup.DocumentCount = docCount
		if chunkCount, cErr := s.chunks.CountChunks(ctx, botID); cErr == nil {
			backup.ChunkCount = int(chunkCount)
		}
		if info, iErr := s.store.CollectionInfo(ctx, collection); iErr == nil {
			backup.VectorCount = info.PointsCount
		}
		if meta, mErr := s.collections.GetCollectionMeta(ctx, botID); mErr == nil {
			cfg := meta.Config()
			backup.CollectionConfig = &cfg
		}
	} else {
		backup.SnapshotID = snap.SnapshotID
		backup.DocumentCount = snap.DocumentCount
		backup.ChunkCount = snap.ChunkCount
		backup.VectorCount = snap.VectorCount
		backup.CollectionConfig = snap.CollectionConfig
	}

	if err := s.writeBackup(backup); err != nil {
		return nil, err
	}
	return backup, nil
}

// verifyIntegrity runs all six checks and appends findings to the report.
// Returns true when any check produced a CRITICAL issue.
func (s *reprocessServiceImpl) verifyIntegrity(ctx context.Context, botID uuid.UUID, report *models.ReprocessReport) bool {
	results, err := s.snapshots.VerifyIntegrity(ctx, botID, models.AllIntegrityChecks, false)
	if err != nil {
		log.Printf("[REPROCESS] integrity verification errored for bot %s: %v", botID, err)
		report.IntegrityVerified = false
		return false
	}

	critical := false
	for name, result := range results {
		if result.CriticalCount() > 0 {
			critical = true
			log.Printf("[REPROCESS] integrity check %s found %d critical issues for bot %s",
				name, result.CriticalCount(), botID)
		}
	}
	report.IntegrityVerified = !critical
	return critical
}

// performRollback restores the pre-operation snapshot recorded in the backup.
func (s *reprocessServiceImpl) performRollback(ctx context.Context, botID uuid.UUID, backup *models.BackupRecord, report *models.ReprocessReport) {
	if backup == nil || backup.SnapshotID == "" {
		log.Printf("[REPROCESS] rollback requested for bot %s but no full snapshot exists", botID)
		return
	}
	rollback, err := s.snapshots.ExecuteRollback(ctx, botID, backup.SnapshotID)
	if err != nil {
		log.Printf("[REPROCESS] rollback to snapshot %s failed: %v", backup.SnapshotID, err)
		return
	}
	report.RollbackPerformed = rollback.Success
}

func (s *reprocessServiceImpl) cleanup(ctx context.Context, operationID string, botID uuid.UUID, collection string) {
	if err := os.Remove(s.backupPath(operationID)); err != nil && !os.IsNotExist(err) {
		log.Printf("[REPROCESS] failed to remove backup file for %s: %v", operationID, err)
	}
	if err := os.Remove(s.checkpointPath(operationID)); err != nil && !os.IsNotExist(err) {
		log.Printf("[REPROCESS] failed to remove checkpoint file for %s: %v", operationID, err)
	}
	if err := s.collections.UpdateCollectionStatus(ctx, botID, models.CollectionStatusActive); err != nil {
		log.Printf("[REPROCESS] failed to activate collection for bot %s: %v", botID, err)
	}
	if info, err := s.store.CollectionInfo(ctx, collection); err == nil {
		if err := s.collections.UpdatePointsCount(ctx, botID, info.PointsCount); err != nil {
			log.Printf("[REPROCESS] failed to update points count for bot %s: %v", botID, err)
		}
	}
}

func (s *reprocessServiceImpl) fail(report *models.ReprocessReport, started time.Time, err error) (*models.ReprocessReport, error) {
	log.Printf("[REPROCESS] operation %s failed: %v", report.OperationID, err)
	s.finish(report, started, models.OperationFailed)
	return report, err
}

func (s *reprocessServiceImpl) finish(report *models.ReprocessReport, started time.Time, status models.OperationStatus) *models.ReprocessReport {
	now := time.Now()
	report.Status = status
	report.CompletedAt = now.UTC()
	report.Duration = now.Sub(started).Seconds()

	s.update(report.OperationID, func(p *models.OperationProgress) {
		p.Status = status
		p.Phase = models.PhaseDone
		completed := now
		p.CompletedAt = &completed
	})
	s.metrics.OperationsTotal.WithLabelValues(string(status)).Inc()

	log.Printf("[REPROCESS] operation %s finished: status=%s docs=%d ok=%d failed=%d cancelled=%d chunks=%d/%d in %.1fs",
		report.OperationID, status, report.TotalDocuments, report.SuccessfulDocs,
		report.FailedDocs, report.CancelledDocs, report.ChunksStored, report.ChunksProcessed, report.Duration)
	return report
}

func (s *reprocessServiceImpl) enterPhase(operationID string, phase models.ReprocessPhase) {
	s.update(operationID, func(p *models.OperationProgress) {
		p.Phase = phase
	})
	log.Printf("[REPROCESS] operation %s entering phase %s", operationID, phase)
}

func (s *reprocessServiceImpl) update(operationID string, fn func(*models.OperationProgress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[operationID]
	if !ok {
		p = &models.OperationProgress{OperationID: operationID, QueuedAt: time.Now().UTC()}
		s.progress[operationID] = p
	}
	fn(p)
}

func (s *reprocessServiceImpl) checkpointPath(operationID string) string {
	return filepath.Join(s.dataDir, checkpointDirName, operationID+".json")
}

func (s *reprocessServiceImpl) backupPath(operationID string) string {
	return filepath.Join(s.dataDir, backupDirName, operationID+".json")
}

func (s *reprocessServiceImpl) writeCheckpoint(cp *models.ReprocessCheckpoint) {
	path := s.checkpointPath(cp.OperationID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Printf("[REPROCESS] failed to create checkpoint directory: %v", err)
		return
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		log.Printf("[REPROCESS] failed to serialize checkpoint for %s: %v", cp.OperationID, err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("[REPROCESS] failed to write checkpoint for %s: %v", cp.OperationID, err)
	}
}

func (s *reprocessServiceImpl) loadCheckpoint(operationID string) *models.ReprocessCheckpoint {
	data, err := os.ReadFile(s.checkpointPath(operationID))
	if err != nil {
		return nil
	}
	var cp models.ReprocessCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		log.Printf("[REPROCESS] ignoring unreadable checkpoint for %s: %v", operationID, err)
		return nil
	}
	return &cp
}

func (s *reprocessServiceImpl) writeBackup(backup *models.BackupRecord) error {
	path := s.backupPath(backup.OperationID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	data, err := json.MarshalIndent(backup, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize backup: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write backup file: %w", err)
	}
	return nil
}

func splitBatches(docs []models.Document, size int) [][]models.Document {
	if size <= 0 {
		size = defaultBatchSize
	}
	var batches [][]models.Document
	for lo := 0; lo < len(docs); lo += size {
		hi := lo + size
		if hi > len(docs) {
			hi = len(docs)
		}
		batches = append(batches, docs[lo:hi])
	}
	return batches
}

func remainingDocs(batches [][]models.Document, from int) []models.Document {
	var docs []models.Document
	for i := from; i < len(batches); i++ {
		docs = append(docs, batches[i]...)
	}
	return docs
}

func cancelledResult(doc models.Document) models.DocumentResult {
	return models.DocumentResult{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Error:      "operation cancelled",
		ErrorType:  "cancelled",
	}
}
