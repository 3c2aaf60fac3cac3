package services

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"document-qa-platform/internal/config"
	"document-qa-platform/internal/vectorstore"
	"document-qa-platform/models"
)

// keywordEmbedder gives controllable similarity: texts mapped in vectors get
// that vector, everything else gets the fallback.
type keywordEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	for key, vec := range e.vectors {
		if strings.Contains(text, key) {
			return vec, nil
		}
	}
	return e.fallback, nil
}

type fakeGenerator struct {
	lastPrompt string
	answer     string
	err        error
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.lastPrompt = prompt
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

type fakeNotifier struct {
	filenames []string
	contacts  [][]models.ContactRecord
	err       error
}

func (n *fakeNotifier) NotifyContacts(ctx context.Context, filename string, contacts []models.ContactRecord) error {
	if n.err != nil {
		return n.err
	}
	n.filenames = append(n.filenames, filename)
	n.contacts = append(n.contacts, contacts)
	return nil
}

// memoryAnswerCache is a map-backed AnswerCache for tests.
type memoryAnswerCache struct {
	entries       map[string]*models.QueryResponse
	invalidations int
}

func newMemoryAnswerCache() *memoryAnswerCache {
	return &memoryAnswerCache{entries: map[string]*models.QueryResponse{}}
}

func (c *memoryAnswerCache) key(req models.QueryRequest) string {
	return req.Query + "|" + req.FileFilter
}

func (c *memoryAnswerCache) Get(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, bool) {
	resp, ok := c.entries[c.key(req)]
	if !ok {
		return nil, false
	}
	copied := *resp
	return &copied, true
}

func (c *memoryAnswerCache) Set(ctx context.Context, req models.QueryRequest, resp *models.QueryResponse) {
	copied := *resp
	c.entries[c.key(req)] = &copied
}

func (c *memoryAnswerCache) Invalidate(ctx context.Context) {
	c.entries = map[string]*models.QueryResponse{}
	c.invalidations++
}

func testConfig() *config.Config {
	return &config.Config{
		MaxChunkSize:   200,
		ChunkOverlap:   40,
		DefaultSearchK: 5,
		MaxSearchK:     20,
		MinConfidence:  0.35,
		MinResults:     1,
	}
}

func newTestPipeline(t *testing.T, emb vectorstore.Embedder, gen Generator, notifier ContactNotifier) *Pipeline {
	t.Helper()
	return newCachedTestPipeline(t, emb, gen, notifier, nil)
}

func newCachedTestPipeline(t *testing.T, emb vectorstore.Embedder, gen Generator, notifier ContactNotifier, cache AnswerCache) *Pipeline {
	t.Helper()
	store, err := vectorstore.Open(vectorstore.Options{
		CollectionName: "test",
		PersistPath:    filepath.Join(t.TempDir(), "vectors.db"),
		Embedder:       emb,
	})
	if err != nil {
		t.Fatalf("store open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewPipeline(testConfig(), store, gen, notifier, cache)
}

func TestPipelineIngestAndGroundedQuery(t *testing.T) {
	emb := &keywordEmbedder{fallback: []float32{1, 0}}
	gen := &fakeGenerator{answer: "The reactor runs at 400 megawatts."}
	p := newTestPipeline(t, emb, gen, nil)
	ctx := context.Background()

	report := p.Ingest(ctx, []models.UploadFile{
		{Name: "reactor.txt", Data: []byte("The reactor output is 400 megawatts. It was commissioned in 1998.")},
	}, true)
	if len(report.Failed()) != 0 {
		t.Fatalf("ingest failed: %+v", report)
	}
	if report.PerFile[0].ChunksAdded == 0 {
		t.Fatal("no chunks stored")
	}

	// Query embeds to the same vector as the document, so confidence is 1.
	resp, err := p.Query(ctx, models.QueryRequest{Query: "What is the reactor output?"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if resp.Answer != gen.answer {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.Confidence < 0.99 {
		t.Errorf("confidence = %v", resp.Confidence)
	}
	if len(resp.SourceChunks) == 0 {
		t.Error("grounded answer must report source chunks")
	}
	if !strings.Contains(resp.SourceChunks[0], "reactor.txt") {
		t.Errorf("attribution missing filename: %q", resp.SourceChunks[0])
	}
	if !strings.Contains(gen.lastPrompt, "Context [1]") {
		t.Errorf("prompt missing context block:\n%s", gen.lastPrompt)
	}
	if !strings.Contains(gen.lastPrompt, "reactor output is 400 megawatts") {
		t.Errorf("prompt missing retrieved text:\n%s", gen.lastPrompt)
	}
}

func TestPipelineLowConfidenceFallsBack(t *testing.T) {
	emb := &keywordEmbedder{
		vectors:  map[string][]float32{"quantum": {0, 1}}, // orthogonal to stored docs
		fallback: []float32{1, 0},
	}
	gen := &fakeGenerator{answer: "From general knowledge: qubits."}
	p := newTestPipeline(t, emb, gen, nil)
	ctx := context.Background()

	p.Ingest(ctx, []models.UploadFile{
		{Name: "recipes.txt", Data: []byte("Mix flour and water. Bake for an hour.")},
	}, true)

	resp, err := p.Query(ctx, models.QueryRequest{Query: "Explain quantum entanglement"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(resp.SourceChunks) != 0 {
		t.Errorf("fallback answer must not cite sources: %v", resp.SourceChunks)
	}
	if resp.Confidence >= 0.35 {
		t.Errorf("confidence = %v, expected below the floor", resp.Confidence)
	}
	if strings.Contains(gen.lastPrompt, "Context [1]") {
		t.Errorf("fallback prompt must not embed context:\n%s", gen.lastPrompt)
	}
	if !strings.Contains(gen.lastPrompt, "general knowledge") {
		t.Errorf("unexpected fallback prompt:\n%s", gen.lastPrompt)
	}
}

func TestPipelineEmptyCollectionFallsBack(t *testing.T) {
	emb := &keywordEmbedder{fallback: []float32{1, 0}}
	gen := &fakeGenerator{answer: "general answer"}
	p := newTestPipeline(t, emb, gen, nil)

	resp, err := p.Query(context.Background(), models.QueryRequest{Query: "anything at all"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if resp.Confidence != 0 || len(resp.SourceChunks) != 0 {
		t.Errorf("expected ungrounded response, got %+v", resp)
	}
	if resp.CollectionSize != 0 {
		t.Errorf("collection size = %d", resp.CollectionSize)
	}
}

func TestPipelineInvalidQuery(t *testing.T) {
	p := newTestPipeline(t, &keywordEmbedder{fallback: []float32{1}}, &fakeGenerator{}, nil)

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := p.Query(context.Background(), models.QueryRequest{Query: q})
		if !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("query %q: expected ErrInvalidQuery, got %v", q, err)
		}
	}
}

func TestPipelineSearchKClamping(t *testing.T) {
	p := newTestPipeline(t, &keywordEmbedder{fallback: []float32{1}}, &fakeGenerator{}, nil)

	if got := p.clampSearchK(0); got != 5 {
		t.Errorf("clamp(0) = %d, want default 5", got)
	}
	if got := p.clampSearchK(-3); got != 5 {
		t.Errorf("clamp(-3) = %d, want default 5", got)
	}
	if got := p.clampSearchK(7); got != 7 {
		t.Errorf("clamp(7) = %d", got)
	}
	if got := p.clampSearchK(500); got != 20 {
		t.Errorf("clamp(500) = %d, want max 20", got)
	}
}

func TestPipelineGenerationError(t *testing.T) {
	emb := &keywordEmbedder{fallback: []float32{1, 0}}
	gen := &fakeGenerator{err: errors.New("model overloaded")}
	p := newTestPipeline(t, emb, gen, nil)
	ctx := context.Background()

	p.Ingest(ctx, []models.UploadFile{{Name: "a.txt", Data: []byte("Some stored fact.")}}, true)

	_, err := p.Query(ctx, models.QueryRequest{Query: "what fact?"})
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
}

func TestPipelineIngestBatchIsolation(t *testing.T) {
	emb := &keywordEmbedder{fallback: []float32{1, 0}}
	p := newTestPipeline(t, emb, &fakeGenerator{}, nil)

	report := p.Ingest(context.Background(), []models.UploadFile{
		{Name: "good.txt", Data: []byte("Perfectly fine content.")},
		{Name: "bad.xyz", Data: []byte("unknown format")},
		{Name: "empty.txt", Data: []byte("   ")},
	}, true)

	if len(report.PerFile) != 3 {
		t.Fatalf("expected 3 per-file results, got %d", len(report.PerFile))
	}
	if report.PerFile[0].Error != "" || report.PerFile[0].ChunksAdded == 0 {
		t.Errorf("good file should succeed: %+v", report.PerFile[0])
	}
	if report.PerFile[1].Error == "" {
		t.Error("unsupported format should be reported")
	}
	if report.PerFile[2].Error == "" {
		t.Error("empty document should be reported")
	}
	if failed := report.Failed(); len(failed) != 2 {
		t.Errorf("Failed() = %v", failed)
	}
}

func TestPipelineContactNotification(t *testing.T) {
	emb := &keywordEmbedder{fallback: []float32{1, 0}}
	notifier := &fakeNotifier{}
	p := newTestPipeline(t, emb, &fakeGenerator{}, notifier)

	csvData := "Name,Email\nAlice,alice@example.com\nBob,bob@example.com\n"
	report := p.Ingest(context.Background(), []models.UploadFile{
		{Name: "contacts.csv", Data: []byte(csvData)},
		{Name: "plain.txt", Data: []byte("No contacts in here, just an email-free sentence.")},
	}, true)

	if len(notifier.filenames) != 1 || notifier.filenames[0] != "contacts.csv" {
		t.Fatalf("notifier called for %v", notifier.filenames)
	}
	if len(notifier.contacts[0]) != 2 {
		t.Errorf("expected 2 contacts, got %+v", notifier.contacts[0])
	}
	if len(report.ContactsNotified) != 1 || report.ContactsNotified[0] != "contacts.csv" {
		t.Errorf("report.ContactsNotified = %v", report.ContactsNotified)
	}
}

func TestPipelineNotifierFailureDoesNotFailIngest(t *testing.T) {
	emb := &keywordEmbedder{fallback: []float32{1, 0}}
	notifier := &fakeNotifier{err: errors.New("queue down")}
	p := newTestPipeline(t, emb, &fakeGenerator{}, notifier)

	report := p.Ingest(context.Background(), []models.UploadFile{
		{Name: "contacts.csv", Data: []byte("Name,Email\nAlice,alice@example.com\n")},
	}, true)

	if len(report.Failed()) != 0 {
		t.Fatalf("notification failure must not fail ingest: %+v", report)
	}
	if report.PerFile[0].ChunksAdded == 0 {
		t.Error("chunks should still be stored")
	}
	if len(report.ContactsNotified) != 0 {
		t.Errorf("failed notification must not be reported as sent: %v", report.ContactsNotified)
	}
}

func TestPipelineAlertsDisabledSkipsNotification(t *testing.T) {
	emb := &keywordEmbedder{fallback: []float32{1, 0}}
	notifier := &fakeNotifier{}
	p := newTestPipeline(t, emb, &fakeGenerator{}, notifier)

	report := p.Ingest(context.Background(), []models.UploadFile{
		{Name: "contacts.csv", Data: []byte("Name,Email\nAlice,alice@example.com\n")},
	}, false)

	if len(notifier.filenames) != 0 {
		t.Errorf("notifier must not be called when alerts are disabled: %v", notifier.filenames)
	}
	if len(report.ContactsNotified) != 0 {
		t.Errorf("report.ContactsNotified = %v", report.ContactsNotified)
	}
	if report.PerFile[0].ChunksAdded == 0 {
		t.Error("ingest should still store chunks")
	}
}

func TestPipelineCachedQuery(t *testing.T) {
	emb := &keywordEmbedder{fallback: []float32{1, 0}}
	gen := &fakeGenerator{answer: "cached answer"}
	cache := newMemoryAnswerCache()
	p := newCachedTestPipeline(t, emb, gen, nil, cache)
	ctx := context.Background()

	p.Ingest(ctx, []models.UploadFile{{Name: "a.txt", Data: []byte("A memorable fact.")}}, true)

	req := models.QueryRequest{Query: "what fact?"}
	first, err := p.Query(ctx, req)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if first.Cached {
		t.Error("first answer must not be marked cached")
	}

	gen.answer = "should not be regenerated"
	second, err := p.Query(ctx, req)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if !second.Cached {
		t.Error("second answer should come from the cache")
	}
	if second.Answer != first.Answer {
		t.Errorf("cached answer = %q, want %q", second.Answer, first.Answer)
	}
}

func TestPipelineClearInvalidatesAnswerCache(t *testing.T) {
	emb := &keywordEmbedder{fallback: []float32{1, 0}}
	gen := &fakeGenerator{answer: "The launch code is in secret.txt."}
	cache := newMemoryAnswerCache()
	p := newCachedTestPipeline(t, emb, gen, nil, cache)
	ctx := context.Background()

	p.Ingest(ctx, []models.UploadFile{
		{Name: "secret.txt", Data: []byte("The launch code is 0000. Handle with care.")},
	}, true)

	req := models.QueryRequest{Query: "What is the launch code?"}
	grounded, err := p.Query(ctx, req)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(grounded.SourceChunks) == 0 {
		t.Fatal("expected a grounded answer before clearing")
	}

	if err := p.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if cache.invalidations != 1 {
		t.Fatalf("invalidations = %d, want 1", cache.invalidations)
	}
	if p.Stats().RecordCount != 0 {
		t.Fatalf("collection not empty after clear: %+v", p.Stats())
	}

	// The same question must not replay the grounded answer citing a file
	// that no longer exists.
	after, err := p.Query(ctx, req)
	if err != nil {
		t.Fatalf("Query after clear failed: %v", err)
	}
	if after.Cached {
		t.Error("answer after clear must not come from the cache")
	}
	if len(after.SourceChunks) != 0 {
		t.Errorf("answer after clear cites deleted documents: %v", after.SourceChunks)
	}
	if after.Confidence != 0 {
		t.Errorf("confidence = %v after clear", after.Confidence)
	}
}

func TestPipelineClear(t *testing.T) {
	emb := &keywordEmbedder{fallback: []float32{1, 0}}
	p := newTestPipeline(t, emb, &fakeGenerator{answer: "ok"}, nil)
	ctx := context.Background()

	p.Ingest(ctx, []models.UploadFile{{Name: "a.txt", Data: []byte("Content to forget.")}}, true)
	if p.Stats().RecordCount == 0 {
		t.Fatal("ingest stored nothing")
	}

	if err := p.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if p.Stats().RecordCount != 0 {
		t.Errorf("collection not empty after clear: %+v", p.Stats())
	}

	resp, err := p.Query(ctx, models.QueryRequest{Query: "anything"})
	if err != nil {
		t.Fatalf("Query after clear failed: %v", err)
	}
	if resp.Confidence != 0 || len(resp.SourceChunks) != 0 {
		t.Errorf("expected fallback after clear, got %+v", resp)
	}
}
