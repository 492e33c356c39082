package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

const (
	maxChunkChecksumSample = 1000
	maxConcurrentChecks    = 3
	snapshotDirName        = "snapshots"
)

type snapshotServiceImpl struct {
	bots        services.BotStore
	documents   services.DocumentStore
	chunks      services.ChunkStore
	collections services.CollectionStore
	store       services.VectorStore

	dataDir   string
	retention time.Duration

	mu    sync.Mutex
	cache map[string]*models.Snapshot

	// rollbackGate serializes rollbacks process-wide.
	rollbackGate chan struct{}

	now func() time.Time
}

// NewSnapshotService creates the snapshot, integrity and rollback service.
// Snapshot blobs live under dataDir/snapshots and survive restarts.
func NewSnapshotService(
	bots services.BotStore,
	documents services.DocumentStore,
	chunks services.ChunkStore,
	collections services.CollectionStore,
	store services.VectorStore,
	dataDir string,
	retentionDays int,
) services.SnapshotService {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &snapshotServiceImpl{
		bots:         bots,
		documents:    documents,
		chunks:       chunks,
		collections:  collections,
		store:        store,
		dataDir:      dataDir,
		retention:    time.Duration(retentionDays) * 24 * time.Hour,
		cache:        make(map[string]*models.Snapshot),
		rollbackGate: make(chan struct{}, 1),
		now:          time.Now,
	}
}

func (s *snapshotServiceImpl) CreateSnapshot(ctx context.Context, botID uuid.UUID, operationID string) (*models.Snapshot, error) {
	if _, err := s.bots.GetBot(ctx, botID); err != nil {
		return nil, err
	}

	snapshotID := operationID
	if snapshotID == "" {
		snapshotID = fmt.Sprintf("snapshot_%s_%d", shortID(botID), s.now().Unix())
	}
	if err := validateSnapshotID(snapshotID); err != nil {
		return nil, err
	}

	docs, err := s.documents.ListDocuments(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents for snapshot: %w", err)
	}
	chunkCount, err := s.chunks.CountChunks(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks for snapshot: %w", err)
	}

	docChecksums := make(map[string]string, len(docs))
	for i := range docs {
		docChecksums[docs[i].ID.String()] = models.DocumentChecksum(&docs[i])
	}

	chunkChecksums, err := s.sampleChunkChecksums(ctx, docs)
	if err != nil {
		return nil, err
	}

	snap := &models.Snapshot{
		SnapshotID:        snapshotID,
		BotID:             botID,
		CreatedAt:         s.now(),
		DocumentCount:     len(docs),
		ChunkCount:        int(chunkCount),
		DocumentChecksums: docChecksums,
		ChunkChecksums:    chunkChecksums,
	}

	meta, metaErr := s.collections.GetCollectionMeta(ctx, botID)
	switch {
	case metaErr == nil:
		cfg := meta.Config()
		snap.CollectionConfig = &cfg
		snap.VectorCount = meta.PointsCount
		if info, infoErr := s.store.CollectionInfo(ctx, meta.CollectionName); infoErr == nil {
			snap.VectorCount = info.PointsCount
		} else {
			log.Printf("[SNAPSHOT] vector store unavailable, using recorded points count for bot %s: %v", botID, infoErr)
		}
	case models.IsNotFound(metaErr):
		// No collection yet; counts stay zero.
	default:
		return nil, fmt.Errorf("failed to load collection metadata for snapshot: %w", metaErr)
	}

	if err := s.saveSnapshot(snap); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[snapshotID] = snap
	s.mu.Unlock()

	log.Printf("[SNAPSHOT] created %s for bot %s: %d documents, %d chunks, %d vectors",
		snapshotID, botID, snap.DocumentCount, snap.ChunkCount, snap.VectorCount)
	return snap, nil
}

func (s *snapshotServiceImpl) GetSnapshot(ctx context.Context, snapshotID string) (*models.Snapshot, error) {
	if err := validateSnapshotID(snapshotID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if snap, ok := s.cache[snapshotID]; ok {
		s.mu.Unlock()
		return snap, nil
	}
	s.mu.Unlock()

	snap, err := s.loadSnapshot(snapshotID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[snapshotID] = snap
	s.mu.Unlock()
	return snap, nil
}

func (s *snapshotServiceImpl) ListSnapshots(ctx context.Context, botID uuid.UUID) ([]*models.Snapshot, error) {
	dir := filepath.Join(s.dataDir, snapshotDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Snapshot{}, nil
		}
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	snapshots := make([]*models.Snapshot, 0)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		snap, loadErr := s.loadSnapshot(strings.TrimSuffix(entry.Name(), ".json"))
		if loadErr != nil {
			log.Printf("[SNAPSHOT] skipping unreadable snapshot file %s: %v", entry.Name(), loadErr)
			continue
		}
		if snap.BotID == botID {
			snapshots = append(snapshots, snap)
		}
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}

func (s *snapshotServiceImpl) VerifyIntegrity(ctx context.Context, botID uuid.UUID, checks []string, detailed bool) (map[string]*models.IntegrityResult, error) {
	if _, err := s.bots.GetBot(ctx, botID); err != nil {
		return nil, err
	}
	return s.runChecks(ctx, botID, checks, detailed, false)
}

func (s *snapshotServiceImpl) runChecks(ctx context.Context, botID uuid.UUID, checks []string, detailed, tolerateStore bool) (map[string]*models.IntegrityResult, error) {
	if len(checks) == 0 {
		checks = models.AllIntegrityChecks
	}
	for _, name := range checks {
		if !knownCheck(name) {
			return nil, models.NewValidationError(fmt.Sprintf("unknown integrity check %q", name))
		}
	}

	results := make(map[string]*models.IntegrityResult, len(checks))
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChecks)
	for _, name := range checks {
		name := name
		g.Go(func() error {
			start := s.now()
			issues, err := s.runCheck(gctx, botID, name, detailed, tolerateStore)
			if err != nil {
				return fmt.Errorf("integrity check %s failed: %w", name, err)
			}
			result := &models.IntegrityResult{
				Check:    name,
				Issues:   issues,
				Duration: s.now().Sub(start).Seconds(),
			}
			result.Passed = result.CriticalCount() == 0
			resultsMu.Lock()
			results[name] = result
			resultsMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *snapshotServiceImpl) runCheck(ctx context.Context, botID uuid.UUID, name string, detailed, tolerateStore bool) ([]models.IntegrityIssue, error) {
	switch name {
	case models.CheckDocumentChunkConsistency:
		return s.checkDocumentChunkConsistency(ctx, botID, detailed)
	case models.CheckVectorStoreConsistency:
		return s.checkVectorStoreConsistency(ctx, botID, tolerateStore)
	case models.CheckEmbeddingDimensionConsistency:
		return s.checkEmbeddingDimensionConsistency(ctx, botID, tolerateStore)
	case models.CheckMetadataConsistency:
		return s.checkMetadataConsistency(ctx, botID)
	case models.CheckReferentialIntegrity:
		return s.checkReferentialIntegrity(ctx, botID)
	case models.CheckCollectionHealth:
		return s.checkCollectionHealth(ctx, botID, tolerateStore)
	default:
		return nil, models.NewValidationError(fmt.Sprintf("unknown integrity check %q", name))
	}
}

func (s *snapshotServiceImpl) checkDocumentChunkConsistency(ctx context.Context, botID uuid.UUID, detailed bool) ([]models.IntegrityIssue, error) {
	docs, err := s.documents.ListDocuments(ctx, botID)
	if err != nil {
		return nil, err
	}
	counts, err := s.chunks.CountsByDocument(ctx, botID)
	if err != nil {
		return nil, err
	}

	issues := []models.IntegrityIssue{}
	for i := range docs {
		doc := docs[i]
		stored := counts[doc.ID]
		if stored != doc.ChunkCount {
			docID := doc.ID
			issues = append(issues, models.IntegrityIssue{
				Level:      models.IntegrityCritical,
				Message:    fmt.Sprintf("document %s claims %d chunks but %d are stored", doc.ID, doc.ChunkCount, stored),
				DocumentID: &docID,
			})
		}
	}

	missing, err := s.chunks.MissingEmbeddingCount(ctx, botID)
	if err != nil {
		return nil, err
	}
	if missing > 0 {
		issues = append(issues, models.IntegrityIssue{
			Level:   models.IntegrityCritical,
			Message: fmt.Sprintf("%d chunks have no embedding id", missing),
		})
	}

	if detailed {
		contiguityIssues, err := s.checkChunkIndexContiguity(ctx, docs)
		if err != nil {
			return nil, err
		}
		issues = append(issues, contiguityIssues...)
	}
	return issues, nil
}

// checkChunkIndexContiguity verifies each document's chunk indexes are
// exactly 0..n-1. Gaps and duplicates are warnings.
func (s *snapshotServiceImpl) checkChunkIndexContiguity(ctx context.Context, docs []models.Document) ([]models.IntegrityIssue, error) {
	issues := []models.IntegrityIssue{}
	for i := range docs {
		doc := docs[i]
		chunkList, err := s.chunks.ListChunks(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		seen := make(map[int]bool, len(chunkList))
		broken := false
		for _, chunk := range chunkList {
			if chunk.ChunkIndex < 0 || chunk.ChunkIndex >= len(chunkList) || seen[chunk.ChunkIndex] {
				broken = true
				break
			}
			seen[chunk.ChunkIndex] = true
		}
		if broken {
			docID := doc.ID
			issues = append(issues, models.IntegrityIssue{
				Level:      models.IntegrityWarning,
				Message:    fmt.Sprintf("document %s chunk indexes are not contiguous 0..%d", doc.ID, len(chunkList)-1),
				DocumentID: &docID,
			})
		}
	}
	return issues, nil
}

func (s *snapshotServiceImpl) checkVectorStoreConsistency(ctx context.Context, botID uuid.UUID, tolerateStore bool) ([]models.IntegrityIssue, error) {
	dbCount, err := s.chunks.CountChunks(ctx, botID)
	if err != nil {
		return nil, err
	}

	meta, err := s.collections.GetCollectionMeta(ctx, botID)
	if err != nil {
		if models.IsNotFound(err) {
			if dbCount > 0 {
				return []models.IntegrityIssue{{
					Level:   models.IntegrityCritical,
					Message: fmt.Sprintf("%d chunks stored but no collection metadata exists", dbCount),
				}}, nil
			}
			return nil, nil
		}
		return nil, err
	}

	exists, err := s.store.CollectionExists(ctx, meta.CollectionName)
	if err != nil {
		if tolerateStore {
			return []models.IntegrityIssue{storeUnreachableIssue(err)}, nil
		}
		return nil, err
	}
	if !exists {
		if dbCount > 0 {
			return []models.IntegrityIssue{{
				Level:   models.IntegrityCritical,
				Message: fmt.Sprintf("vector collection %s missing while %d chunks are stored", meta.CollectionName, dbCount),
			}}, nil
		}
		return nil, nil
	}

	info, err := s.store.CollectionInfo(ctx, meta.CollectionName)
	if err != nil {
		if tolerateStore {
			return []models.IntegrityIssue{storeUnreachableIssue(err)}, nil
		}
		return nil, err
	}
	if info.PointsCount != dbCount {
		return []models.IntegrityIssue{{
			Level:   models.IntegrityCritical,
			Message: fmt.Sprintf("database has %d chunks but vector store has %d points", dbCount, info.PointsCount),
		}}, nil
	}
	return nil, nil
}

func (s *snapshotServiceImpl) checkEmbeddingDimensionConsistency(ctx context.Context, botID uuid.UUID, tolerateStore bool) ([]models.IntegrityIssue, error) {
	bot, err := s.bots.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	meta, err := s.collections.GetCollectionMeta(ctx, botID)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	issues := []models.IntegrityIssue{}
	if bot.EmbeddingProvider != meta.EmbeddingProvider || bot.EmbeddingModel != meta.EmbeddingModel {
		issues = append(issues, models.IntegrityIssue{
			Level: models.IntegrityCritical,
			Message: fmt.Sprintf("bot uses %s/%s but collection was built with %s/%s",
				bot.EmbeddingProvider, bot.EmbeddingModel, meta.EmbeddingProvider, meta.EmbeddingModel),
		})
	}

	exists, err := s.store.CollectionExists(ctx, meta.CollectionName)
	if err != nil {
		if tolerateStore {
			return append(issues, storeUnreachableIssue(err)), nil
		}
		return nil, err
	}
	if exists {
		info, infoErr := s.store.CollectionInfo(ctx, meta.CollectionName)
		if infoErr != nil {
			if tolerateStore {
				return append(issues, storeUnreachableIssue(infoErr)), nil
			}
			return nil, infoErr
		}
		if info.VectorSize != meta.EmbeddingDimension {
			issues = append(issues, models.IntegrityIssue{
				Level: models.IntegrityCritical,
				Message: fmt.Sprintf("collection stores %d-dimensional vectors but metadata declares %d",
					info.VectorSize, meta.EmbeddingDimension),
			})
		}
	}
	return issues, nil
}

func (s *snapshotServiceImpl) checkMetadataConsistency(ctx context.Context, botID uuid.UUID) ([]models.IntegrityIssue, error) {
	meta, err := s.collections.GetCollectionMeta(ctx, botID)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	actual, err := s.chunks.CountChunks(ctx, botID)
	if err != nil {
		return nil, err
	}
	if meta.PointsCount != actual {
		return []models.IntegrityIssue{{
			Level:   models.IntegrityWarning,
			Message: fmt.Sprintf("collection metadata records %d points but %d chunks are stored", meta.PointsCount, actual),
		}}, nil
	}
	return nil, nil
}

func (s *snapshotServiceImpl) checkReferentialIntegrity(ctx context.Context, botID uuid.UUID) ([]models.IntegrityIssue, error) {
	issues := []models.IntegrityIssue{}

	orphans, err := s.chunks.OrphanCount(ctx, botID)
	if err != nil {
		return nil, err
	}
	if orphans > 0 {
		issues = append(issues, models.IntegrityIssue{
			Level:   models.IntegrityCritical,
			Message: fmt.Sprintf("%d chunks reference documents that no longer exist", orphans),
		})
	}

	docs, err := s.documents.ListDocuments(ctx, botID)
	if err != nil {
		return nil, err
	}
	counts, err := s.chunks.CountsByDocument(ctx, botID)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		doc := docs[i]
		if doc.ChunkCount > 0 && counts[doc.ID] == 0 {
			docID := doc.ID
			issues = append(issues, models.IntegrityIssue{
				Level:      models.IntegrityWarning,
				Message:    fmt.Sprintf("document %s claims %d chunks but none are stored", doc.ID, doc.ChunkCount),
				DocumentID: &docID,
			})
		}
	}
	return issues, nil
}

func (s *snapshotServiceImpl) checkCollectionHealth(ctx context.Context, botID uuid.UUID, tolerateStore bool) ([]models.IntegrityIssue, error) {
	dbCount, err := s.chunks.CountChunks(ctx, botID)
	if err != nil {
		return nil, err
	}

	meta, err := s.collections.GetCollectionMeta(ctx, botID)
	if err != nil {
		if models.IsNotFound(err) {
			if dbCount > 0 {
				return []models.IntegrityIssue{{
					Level:   models.IntegrityCritical,
					Message: fmt.Sprintf("%d chunks exist but the bot has no collection configured", dbCount),
				}}, nil
			}
			return nil, nil
		}
		return nil, err
	}

	issues := []models.IntegrityIssue{}
	if meta.EmbeddingProvider == "" || meta.EmbeddingModel == "" || meta.EmbeddingDimension <= 0 {
		issues = append(issues, models.IntegrityIssue{
			Level:   models.IntegrityWarning,
			Message: "collection metadata is missing provider, model or dimension",
		})
	}

	exists, err := s.store.CollectionExists(ctx, meta.CollectionName)
	if err != nil {
		if tolerateStore {
			return append(issues, storeUnreachableIssue(err)), nil
		}
		return nil, err
	}
	if !exists && dbCount > 0 {
		issues = append(issues, models.IntegrityIssue{
			Level:   models.IntegrityCritical,
			Message: fmt.Sprintf("vector collection %s is absent yet %d chunks exist", meta.CollectionName, dbCount),
		})
	}
	if meta.Status != models.CollectionStatusActive {
		issues = append(issues, models.IntegrityIssue{
			Level:   models.IntegrityInfo,
			Message: fmt.Sprintf("collection status is %s", meta.Status),
		})
	}
	return issues, nil
}

func (s *snapshotServiceImpl) PlanRollback(ctx context.Context, botID uuid.UUID, snapshotID string) (*models.RollbackPlan, error) {
	snap, err := s.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap.BotID != botID {
		return nil, models.NewValidationError(fmt.Sprintf("snapshot %s belongs to a different bot", snapshotID))
	}
	if _, err := s.bots.GetBot(ctx, botID); err != nil {
		return nil, err
	}

	dbCount, err := s.chunks.CountChunks(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect current state: %w", err)
	}
	docCount, err := s.documents.CountDocuments(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect current state: %w", err)
	}
	_, metaErr := s.collections.GetCollectionMeta(ctx, botID)
	hasCollection := metaErr == nil
	if metaErr != nil && !models.IsNotFound(metaErr) {
		return nil, fmt.Errorf("failed to inspect current state: %w", metaErr)
	}

	steps := []models.RollbackStep{{
		Type:        models.StepPreRollbackBackup,
		Description: "capture a snapshot of the current state before any destructive action",
	}}
	if hasCollection {
		steps = append(steps, models.RollbackStep{
			Type:        models.StepDropCollection,
			Description: "drop the current vector collection",
		})
	}
	if dbCount > 0 {
		steps = append(steps, models.RollbackStep{
			Type:        models.StepDeleteChunks,
			Description: fmt.Sprintf("delete %d stored chunks", dbCount),
		})
	}
	if docCount > 0 {
		steps = append(steps, models.RollbackStep{
			Type:        models.StepResetChunkCounts,
			Description: fmt.Sprintf("reset chunk counts on %d documents", docCount),
		})
	}
	if snap.CollectionConfig != nil {
		steps = append(steps, models.RollbackStep{
			Type:        models.StepRestoreMetadata,
			Description: "restore collection metadata from the snapshot",
		})
	}
	steps = append(steps, models.RollbackStep{
		Type:        models.StepVerify,
		Description: "run core integrity checks on the restored state",
	})

	return &models.RollbackPlan{
		SnapshotID: snapshotID,
		BotID:      botID,
		Steps:      steps,
		Risk:       planRisk(steps),
		CreatedAt:  s.now(),
	}, nil
}

func planRisk(steps []models.RollbackStep) models.RollbackRisk {
	hasDrop := false
	for _, step := range steps {
		switch step.Type {
		case models.StepDeleteChunks:
			return models.RollbackRiskHigh
		case models.StepDropCollection:
			hasDrop = true
		}
	}
	if hasDrop {
		return models.RollbackRiskMedium
	}
	return models.RollbackRiskLow
}

func (s *snapshotServiceImpl) ExecuteRollback(ctx context.Context, botID uuid.UUID, snapshotID string) (*models.RollbackReport, error) {
	select {
	case s.rollbackGate <- struct{}{}:
	default:
		return nil, models.NewConflictError("a rollback is already in progress")
	}
	defer func() { <-s.rollbackGate }()

	plan, err := s.PlanRollback(ctx, botID, snapshotID)
	if err != nil {
		return nil, err
	}
	snap, err := s.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	started := s.now()
	report := &models.RollbackReport{
		SnapshotID: snapshotID,
		BotID:      botID,
		Success:    true,
		StartedAt:  started,
	}
	log.Printf("[ROLLBACK] starting rollback of bot %s to snapshot %s (%d steps, risk %s)",
		botID, snapshotID, len(plan.Steps), plan.Risk)

	for _, step := range plan.Steps {
		stepStart := s.now()
		stepErr := s.executeStep(ctx, botID, snap, step.Type, report)
		result := models.RollbackStepResult{
			Type:     step.Type,
			Success:  stepErr == nil,
			Duration: s.now().Sub(stepStart).Seconds(),
		}
		if stepErr != nil {
			result.Error = stepErr.Error()
			result.Recovered = s.attemptRollbackRecovery(ctx, botID)
			report.Steps = append(report.Steps, result)
			report.Success = false
			log.Printf("[ROLLBACK] step %s failed for bot %s: %v (recovered=%t)",
				step.Type, botID, stepErr, result.Recovered)
			break
		}
		report.Steps = append(report.Steps, result)
	}

	report.CompletedAt = s.now()
	report.Duration = report.CompletedAt.Sub(started).Seconds()
	log.Printf("[ROLLBACK] rollback of bot %s to %s finished: success=%t in %.2fs",
		botID, snapshotID, report.Success, report.Duration)
	return report, nil
}

func (s *snapshotServiceImpl) executeStep(ctx context.Context, botID uuid.UUID, snap *models.Snapshot, stepType models.RollbackStepType, report *models.RollbackReport) error {
	switch stepType {
	case models.StepPreRollbackBackup:
		backupID := fmt.Sprintf("pre_rollback_%s_%d", snap.SnapshotID, s.now().Unix())
		if _, err := s.CreateSnapshot(ctx, botID, backupID); err != nil {
			return fmt.Errorf("failed to create pre-rollback backup: %w", err)
		}
		report.PreRollbackBackup = backupID
		return nil

	case models.StepDropCollection:
		meta, err := s.collections.GetCollectionMeta(ctx, botID)
		if err != nil {
			if models.IsNotFound(err) {
				return nil
			}
			return err
		}
		exists, err := s.store.CollectionExists(ctx, meta.CollectionName)
		if err != nil {
			return fmt.Errorf("failed to check collection before drop: %w", err)
		}
		if !exists {
			return nil
		}
		if err := s.store.DeleteCollection(ctx, meta.CollectionName); err != nil {
			return fmt.Errorf("failed to drop collection %s: %w", meta.CollectionName, err)
		}
		return nil

	case models.StepDeleteChunks:
		deleted, err := s.chunks.DeleteChunksByBot(ctx, botID)
		if err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
		log.Printf("[ROLLBACK] deleted %d chunks for bot %s", deleted, botID)
		return nil

	case models.StepResetChunkCounts:
		if _, err := s.documents.ResetChunkCounts(ctx, botID); err != nil {
			return fmt.Errorf("failed to reset chunk counts: %w", err)
		}
		return nil

	case models.StepRestoreMetadata:
		return s.restoreMetadata(ctx, botID, snap)

	case models.StepVerify:
		results, err := s.runChecks(ctx, botID, models.CoreIntegrityChecks, false, true)
		if err != nil {
			return fmt.Errorf("post-rollback verification failed to run: %w", err)
		}
		report.VerificationResult = results
		for name, result := range results {
			if !result.Passed {
				return models.NewIntegrityError(fmt.Sprintf("post-rollback check %s found critical issues", name))
			}
		}
		return nil

	default:
		return models.NewValidationError(fmt.Sprintf("unknown rollback step %q", stepType))
	}
}

// restoreMetadata rewrites the collection row from the snapshot. The vector
// collection itself stays dropped; points must be re-embedded, so the
// restored row is inactive with zero points.
func (s *snapshotServiceImpl) restoreMetadata(ctx context.Context, botID uuid.UUID, snap *models.Snapshot) error {
	if snap.CollectionConfig == nil {
		return nil
	}
	meta, err := s.collections.GetCollectionMeta(ctx, botID)
	if err != nil {
		if !models.IsNotFound(err) {
			return err
		}
		meta = &models.CollectionMetadata{
			BotID:          botID,
			CollectionName: fmt.Sprintf("bot_%s", strings.ReplaceAll(botID.String(), "-", "_")),
		}
	}
	meta.EmbeddingProvider = snap.CollectionConfig.EmbeddingProvider
	meta.EmbeddingModel = snap.CollectionConfig.EmbeddingModel
	meta.EmbeddingDimension = snap.CollectionConfig.EmbeddingDimension
	meta.Status = models.CollectionStatusInactive
	meta.PointsCount = 0
	if err := s.collections.UpsertCollectionMeta(ctx, meta); err != nil {
		return fmt.Errorf("failed to restore collection metadata: %w", err)
	}
	return nil
}

// attemptRollbackRecovery best-effort cleans partial rollback state so a
// later retry starts from something consistent. Returns true when every
// cleanup action succeeded.
func (s *snapshotServiceImpl) attemptRollbackRecovery(ctx context.Context, botID uuid.UUID) bool {
	recovered := true
	if _, err := s.chunks.DeleteChunksByBot(ctx, botID); err != nil {
		log.Printf("[ROLLBACK] recovery could not delete stray chunks for bot %s: %v", botID, err)
		recovered = false
	}
	if _, err := s.documents.ResetChunkCounts(ctx, botID); err != nil {
		log.Printf("[ROLLBACK] recovery could not reset chunk counts for bot %s: %v", botID, err)
		recovered = false
	}
	return recovered
}

func (s *snapshotServiceImpl) PurgeExpired(ctx context.Context) (int, error) {
	dir := filepath.Join(s.dataDir, snapshotDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	cutoff := s.now().Add(-s.retention)
	purged := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		snap, loadErr := s.loadSnapshot(id)
		if loadErr != nil {
			log.Printf("[SNAPSHOT] skipping unreadable snapshot %s during purge: %v", id, loadErr)
			continue
		}
		if snap.CreatedAt.After(cutoff) {
			continue
		}
		if rmErr := os.Remove(s.snapshotPath(id)); rmErr != nil {
			log.Printf("[SNAPSHOT] failed to remove expired snapshot %s: %v", id, rmErr)
			continue
		}
		s.mu.Lock()
		delete(s.cache, id)
		s.mu.Unlock()
		purged++
	}
	if purged > 0 {
		log.Printf("[SNAPSHOT] purged %d snapshots older than %s", purged, s.retention)
	}
	return purged, nil
}

func (s *snapshotServiceImpl) snapshotPath(snapshotID string) string {
	return filepath.Join(s.dataDir, snapshotDirName, snapshotID+".json")
}

func (s *snapshotServiceImpl) saveSnapshot(snap *models.Snapshot) error {
	path := s.snapshotPath(snap.SnapshotID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	return nil
}

func (s *snapshotServiceImpl) loadSnapshot(snapshotID string) (*models.Snapshot, error) {
	data, err := os.ReadFile(s.snapshotPath(snapshotID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.NewNotFoundError("snapshot", snapshotID)
		}
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", snapshotID, err)
	}
	return &snap, nil
}

func (s *snapshotServiceImpl) sampleChunkChecksums(ctx context.Context, docs []models.Document) (map[string]string, error) {
	checksums := make(map[string]string)
	for i := range docs {
		if len(checksums) >= maxChunkChecksumSample {
			break
		}
		chunkList, err := s.chunks.ListChunks(ctx, docs[i].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list chunks for checksum sample: %w", err)
		}
		for _, chunk := range chunkList {
			if len(checksums) >= maxChunkChecksumSample {
				break
			}
			hash := chunk.ContentHash
			if hash == "" {
				hash = models.HashContent(chunk.Content)
			}
			checksums[chunk.ID.String()] = hash
		}
	}
	return checksums, nil
}

func storeUnreachableIssue(err error) models.IntegrityIssue {
	return models.IntegrityIssue{
		Level:   models.IntegrityWarning,
		Message: fmt.Sprintf("vector store unreachable: %v", err),
	}
}

func knownCheck(name string) bool {
	for _, check := range models.AllIntegrityChecks {
		if check == name {
			return true
		}
	}
	return false
}

func validateSnapshotID(id string) error {
	if id == "" {
		return models.NewValidationError("snapshot id is empty")
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return models.NewValidationError("snapshot id contains path separators")
	}
	return nil
}

func shortID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}
