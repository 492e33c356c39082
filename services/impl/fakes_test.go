package impl

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

// fakeStore is an in-memory services.DataStore used across the package tests.
type fakeStore struct {
	mu          sync.Mutex
	bots        map[uuid.UUID]*models.Bot
	users       map[uuid.UUID]*models.User
	keys        map[string]*models.UserAPIKey
	documents   map[uuid.UUID]*models.Document
	chunks      map[uuid.UUID][]models.DocumentChunk
	collections map[uuid.UUID]*models.CollectionMetadata
	logs        []models.ThresholdPerformanceLog

	insertChunksErr error
	insertLogErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bots:        make(map[uuid.UUID]*models.Bot),
		users:       make(map[uuid.UUID]*models.User),
		keys:        make(map[string]*models.UserAPIKey),
		documents:   make(map[uuid.UUID]*models.Document),
		chunks:      make(map[uuid.UUID][]models.DocumentChunk),
		collections: make(map[uuid.UUID]*models.CollectionMetadata),
	}
}

func (f *fakeStore) addBot(bot *models.Bot) *models.Bot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if bot.ID == uuid.Nil {
		bot.ID = uuid.New()
	}
	f.bots[bot.ID] = bot
	return bot
}

func (f *fakeStore) addDocument(doc *models.Document) *models.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	f.documents[doc.ID] = doc
	return doc
}

func (f *fakeStore) keyID(userID uuid.UUID, provider string) string {
	return userID.String() + "|" + provider
}

func (f *fakeStore) GetBot(ctx context.Context, id uuid.UUID) (*models.Bot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bot, ok := f.bots[id]
	if !ok || bot.DeletedAt != nil {
		return nil, models.NewNotFoundError("bot", id.String())
	}
	copied := *bot
	return &copied, nil
}

func (f *fakeStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, models.NewNotFoundError("user", id.String())
	}
	copied := *user
	return &copied, nil
}

func (f *fakeStore) GetKey(ctx context.Context, userID uuid.UUID, provider string) (*models.UserAPIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.keys[f.keyID(userID, provider)]
	if !ok {
		return nil, models.NewAPIKeyError(provider, models.APIKeyErrorNotFound,
			fmt.Sprintf("no %s api key stored for user %s", provider, userID), nil)
	}
	copied := *key
	return &copied, nil
}

func (f *fakeStore) UpsertKey(ctx context.Context, key *models.UserAPIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	key.UpdatedAt = time.Now()
	copied := *key
	f.keys[f.keyID(key.UserID, key.Provider)] = &copied
	return nil
}

func (f *fakeStore) DeleteKey(ctx context.Context, userID uuid.UUID, provider string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.keyID(userID, provider)
	if _, ok := f.keys[id]; !ok {
		return models.NewNotFoundError("api_key", provider)
	}
	delete(f.keys, id)
	return nil
}

func (f *fakeStore) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[id]
	if !ok {
		return nil, models.NewNotFoundError("document", id.String())
	}
	copied := *doc
	return &copied, nil
}

func (f *fakeStore) ListDocuments(ctx context.Context, botID uuid.UUID) ([]models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var docs []models.Document
	for _, doc := range f.documents {
		if doc.BotID == botID {
			docs = append(docs, *doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID.String() < docs[j].ID.String()
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs, nil
}

func (f *fakeStore) CountDocuments(ctx context.Context, botID uuid.UUID) (int, error) {
	docs, _ := f.ListDocuments(ctx, botID)
	return len(docs), nil
}

func (f *fakeStore) UpdateChunkCount(ctx context.Context, documentID uuid.UUID, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[documentID]
	if !ok {
		return models.NewNotFoundError("document", documentID.String())
	}
	doc.ChunkCount = count
	return nil
}

func (f *fakeStore) ResetChunkCounts(ctx context.Context, botID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, doc := range f.documents {
		if doc.BotID == botID {
			doc.ChunkCount = 0
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ListChunks(ctx context.Context, documentID uuid.UUID) ([]models.DocumentChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chunks := append([]models.DocumentChunk(nil), f.chunks[documentID]...)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	return chunks, nil
}

func (f *fakeStore) InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertChunksErr != nil {
		return f.insertChunksErr
	}
	for _, c := range chunks {
		f.chunks[c.DocumentID] = append(f.chunks[c.DocumentID], c)
	}
	return nil
}

func (f *fakeStore) DeleteChunksByDocument(ctx context.Context, documentID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.chunks[documentID]))
	delete(f.chunks, documentID)
	return n, nil
}

func (f *fakeStore) DeleteChunksByBot(ctx context.Context, botID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for docID, chunks := range f.chunks {
		var kept []models.DocumentChunk
		for _, c := range chunks {
			if c.BotID == botID {
				n++
			} else {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(f.chunks, docID)
		} else {
			f.chunks[docID] = kept
		}
	}
	return n, nil
}

func (f *fakeStore) CountChunks(ctx context.Context, botID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, chunks := range f.chunks {
		for _, c := range chunks {
			if c.BotID == botID {
				n++
			}
		}
	}
	return n, nil
}

func (f *fakeStore) CountsByDocument(ctx context.Context, botID uuid.UUID) (map[uuid.UUID]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[uuid.UUID]int)
	for docID, chunks := range f.chunks {
		for _, c := range chunks {
			if c.BotID == botID {
				counts[docID]++
			}
		}
	}
	return counts, nil
}

func (f *fakeStore) MissingEmbeddingCount(ctx context.Context, botID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, chunks := range f.chunks {
		for _, c := range chunks {
			if c.BotID == botID && c.EmbeddingID == "" {
				n++
			}
		}
	}
	return n, nil
}

func (f *fakeStore) OrphanCount(ctx context.Context, botID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for docID, chunks := range f.chunks {
		if _, ok := f.documents[docID]; ok {
			continue
		}
		for _, c := range chunks {
			if c.BotID == botID {
				n++
			}
		}
	}
	return n, nil
}

func (f *fakeStore) TotalContentChars(ctx context.Context, botID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, chunks := range f.chunks {
		for _, c := range chunks {
			if c.BotID == botID {
				total += int64(len(c.Content))
			}
		}
	}
	return total, nil
}

func (f *fakeStore) GetCollectionMeta(ctx context.Context, botID uuid.UUID) (*models.CollectionMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.collections[botID]
	if !ok {
		return nil, models.NewNotFoundError("collection_metadata", botID.String())
	}
	copied := *meta
	return &copied, nil
}

func (f *fakeStore) UpsertCollectionMeta(ctx context.Context, meta *models.CollectionMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if meta.ID == uuid.Nil {
		meta.ID = uuid.New()
	}
	meta.UpdatedAt = time.Now()
	copied := *meta
	f.collections[meta.BotID] = &copied
	return nil
}

func (f *fakeStore) UpdatePointsCount(ctx context.Context, botID uuid.UUID, count int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if meta, ok := f.collections[botID]; ok {
		meta.PointsCount = count
	}
	return nil
}

func (f *fakeStore) UpdateCollectionStatus(ctx context.Context, botID uuid.UUID, status models.CollectionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if meta, ok := f.collections[botID]; ok {
		meta.Status = status
	}
	return nil
}

func (f *fakeStore) InsertPerformanceLog(ctx context.Context, entry *models.ThresholdPerformanceLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertLogErr != nil {
		return f.insertLogErr
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	f.logs = append(f.logs, *entry)
	return nil
}

func (f *fakeStore) ListPerformanceLogs(ctx context.Context, botID uuid.UUID, provider, model string, since time.Time) ([]models.ThresholdPerformanceLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ThresholdPerformanceLog
	for _, entry := range f.logs {
		if entry.BotID != botID || entry.Provider != provider {
			continue
		}
		if model != "" && entry.Model != model {
			continue
		}
		if entry.CreatedAt.Before(since) {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ services.DataStore = (*fakeStore)(nil)

// stubEmbedder is a deterministic services.EmbeddingProvider.
type stubEmbedder struct {
	mu        sync.Mutex
	dimension int
	calls     int
	batches   [][]string
	embedErr  error
	keyErr    error
}

func newStubEmbedder(dimension int) *stubEmbedder {
	return &stubEmbedder{dimension: dimension}
}

// embed maps text deterministically into the vector space so equal texts get
// equal vectors.
func (s *stubEmbedder) embed(text string) []float32 {
	vec := make([]float32, s.dimension)
	for i := range vec {
		vec[i] = float32((len(text)+i)%7) + 1
	}
	return vec
}

func (s *stubEmbedder) GenerateEmbeddings(ctx context.Context, model string, texts []string, apiKey string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.batches = append(s.batches, append([]string(nil), texts...))
	if s.embedErr != nil {
		return nil, s.embedErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.embed(t)
	}
	return out, nil
}

func (s *stubEmbedder) ValidateKey(ctx context.Context, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyErr
}

func (s *stubEmbedder) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	return []string{"stub-embedding"}, nil
}

func (s *stubEmbedder) GetDimension(model string) (int, error) {
	if s.dimension <= 0 {
		return 0, fmt.Errorf("unknown embedding model %q", model)
	}
	return s.dimension, nil
}

// stubLLM is a deterministic services.LLMProvider.
type stubLLM struct {
	mu       sync.Mutex
	calls    int
	response string
	err      error
	keyErr   error
	prompts  []string
}

func newStubLLM(response string) *stubLLM {
	return &stubLLM{response: response}
}

func (s *stubLLM) Generate(ctx context.Context, model, prompt, apiKey string, cfg *services.GenerationConfig) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *stubLLM) ValidateKey(ctx context.Context, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyErr
}

func (s *stubLLM) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	return []string{"stub-llm"}, nil
}

// stubRegistry maps provider names to stubs.
type stubRegistry struct {
	embedders map[string]services.EmbeddingProvider
	llms      map[string]services.LLMProvider
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{
		embedders: make(map[string]services.EmbeddingProvider),
		llms:      make(map[string]services.LLMProvider),
	}
}

func (r *stubRegistry) Embedding(name string) (services.EmbeddingProvider, bool) {
	p, ok := r.embedders[strings.ToLower(name)]
	return p, ok
}

func (r *stubRegistry) LLM(name string) (services.LLMProvider, bool) {
	p, ok := r.llms[strings.ToLower(name)]
	return p, ok
}

func (r *stubRegistry) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for name := range r.embedders {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range r.llms {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

var _ services.ProviderRegistry = (*stubRegistry)(nil)

// stubProcessor chunks text by lines, one chunk per non-empty line.
type stubProcessor struct {
	err error
}

func (p *stubProcessor) Process(ctx context.Context, data []byte, filename string, documentID string) ([]models.ProcessedChunk, *services.ProcessMeta, error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	var chunks []models.ProcessedChunk
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		chunks = append(chunks, models.ProcessedChunk{
			Content:    line,
			ChunkIndex: len(chunks),
		})
	}
	return chunks, &services.ProcessMeta{ChunkCount: len(chunks), TotalChars: len(data)}, nil
}

// stubFiles serves document bytes from a map keyed by file path.
type stubFiles struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newStubFiles() *stubFiles {
	return &stubFiles{files: make(map[string][]byte)}
}

func (s *stubFiles) ReadFile(ctx context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	if !ok {
		return nil, models.NewNotFoundError("document file", path)
	}
	return data, nil
}
