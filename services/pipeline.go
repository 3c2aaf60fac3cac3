package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"document-qa-platform/internal/config"
	"document-qa-platform/internal/logger"
	"document-qa-platform/internal/vectorstore"
	"document-qa-platform/models"
)

var (
	// ErrInvalidQuery reports an empty or whitespace-only question.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrGeneration reports an answer generation failure after retrieval
	// already succeeded.
	ErrGeneration = errors.New("answer generation failed")
)

// Generator produces an answer for an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ContactNotifier is told about contact details found in uploaded
// spreadsheets. Notification is best effort; failures never fail an ingest.
type ContactNotifier interface {
	NotifyContacts(ctx context.Context, filename string, contacts []models.ContactRecord) error
}

// AnswerCache stores recent answers keyed by the exact query parameters.
// Invalidate drops every cached answer; it is called when the collection is
// cleared so stale answers cannot cite deleted documents.
type AnswerCache interface {
	Get(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, bool)
	Set(ctx context.Context, req models.QueryRequest, resp *models.QueryResponse)
	Invalidate(ctx context.Context)
}

// Pipeline wires parsing, chunking, the vector store, and answer generation
// into the two user-facing operations: ingest and query.
type Pipeline struct {
	cfg       *config.Config
	store     *vectorstore.Store
	parser    *DocumentParser
	generator Generator
	notifier  ContactNotifier // optional
	cache     AnswerCache     // optional
}

func NewPipeline(cfg *config.Config, store *vectorstore.Store, generator Generator, notifier ContactNotifier, cache AnswerCache) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		parser:    NewDocumentParser(),
		generator: generator,
		notifier:  notifier,
		cache:     cache,
	}
}

// Ingest parses, chunks, embeds, and stores each uploaded file. Files are
// processed independently: one file's failure is recorded in the report and
// the batch continues. Chunks stored before a mid-file embedding failure stay
// in the collection. emailAlerts suppresses contact notifications for this
// batch when false.
func (p *Pipeline) Ingest(ctx context.Context, files []models.UploadFile, emailAlerts bool) *models.IngestReport {
	report := &models.IngestReport{}

	for _, file := range files {
		result := p.ingestOne(ctx, file, emailAlerts)
		report.PerFile = append(report.PerFile, result.IngestFileResult)

		if result.contactsSent {
			report.ContactsNotified = append(report.ContactsNotified, result.Filename)
		}
	}
	return report
}

type ingestOutcome struct {
	models.IngestFileResult
	contactsSent bool
}

func (p *Pipeline) ingestOne(ctx context.Context, file models.UploadFile, emailAlerts bool) ingestOutcome {
	name := models.NormalizeFilename(file.Name)
	out := ingestOutcome{IngestFileResult: models.IngestFileResult{Filename: name}}

	doc, err := p.parser.Parse(file.Name, file.Data)
	if err != nil {
		logger.Error("Document parsing failed", "file", name, "error", err)
		out.Error = err.Error()
		return out
	}

	if len(doc.DetectedContacts) > 0 {
		logger.Info("Contact details detected",
			"file", name, "contacts", len(doc.DetectedContacts), "skipped_cells", doc.SkippedCells)
		if emailAlerts && p.notifier != nil {
			if err := p.notifier.NotifyContacts(ctx, name, doc.DetectedContacts); err != nil {
				logger.Error("Contact notification failed", "file", name, "error", err)
			} else {
				out.contactsSent = true
			}
		}
	}

	chunks, err := ChunkDocument(doc, p.cfg.MaxChunkSize, p.cfg.ChunkOverlap)
	if err != nil {
		out.Error = err.Error()
		return out
	}

	if err := p.store.Add(ctx, chunks); err != nil {
		logger.Error("Chunk storage failed", "file", name, "error", err)
		out.Error = err.Error()
		return out
	}

	out.ChunksAdded = len(chunks)
	logger.Info("Document ingested", "file", name, "chunks", len(chunks))
	return out
}

// Query retrieves the most similar chunks and generates an answer from them.
// When retrieval confidence is below the configured floor, or nothing is
// retrieved, the answer falls back to the model's general knowledge and no
// source chunks are reported.
func (p *Pipeline) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, fmt.Errorf("%w: empty question", ErrInvalidQuery)
	}
	req.SearchK = p.clampSearchK(req.SearchK)

	started := time.Now()
	logger.Info("Query received", "state", "RECEIVED", "search_k", req.SearchK, "file_filter", req.FileFilter)

	if p.cache != nil {
		if cached, ok := p.cache.Get(ctx, req); ok {
			cached.Cached = true
			cached.ProcessingMS = time.Since(started).Milliseconds()
			logger.Info("Query answered from cache", "state", "ANSWERED", "cached", true)
			return cached, nil
		}
	}

	logger.Debug("Retrieving context", "state", "RETRIEVING")
	retrieval, err := p.store.Query(ctx, req.Query, req.SearchK, req.FileFilter)
	if err != nil {
		logger.Error("Retrieval failed", "state", "FAILED", "error", err)
		return nil, err
	}

	confidence := retrieval.Confidence()
	useContext := confidence >= p.cfg.MinConfidence && len(retrieval.Results) >= p.cfg.MinResults

	var (
		prompt  string
		sources []string
	)
	if useContext {
		prompt = buildContextPrompt(req.Query, retrieval.Results)
		sources = attributions(retrieval.Results)
	} else {
		prompt = buildFallbackPrompt(req.Query)
		logger.Info("Falling back to general knowledge",
			"confidence", confidence, "results", len(retrieval.Results), "min_confidence", p.cfg.MinConfidence)
	}

	logger.Debug("Generating answer", "state", "GENERATING", "grounded", useContext)
	answer, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		logger.Error("Generation failed", "state", "FAILED", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	resp := &models.QueryResponse{
		Answer:         answer,
		SourceChunks:   sources,
		Confidence:     confidence,
		CollectionSize: p.store.Stats().RecordCount,
		ProcessingMS:   time.Since(started).Milliseconds(),
	}

	if p.cache != nil {
		p.cache.Set(ctx, req, resp)
	}

	logger.Info("Query answered", "state", "ANSWERED",
		"grounded", useContext, "confidence", confidence, "processing_ms", resp.ProcessingMS)
	return resp, nil
}

// Clear drops every record from the collection and any cached answers that
// could still cite the deleted documents.
func (p *Pipeline) Clear(ctx context.Context) error {
	if err := p.store.DeleteAll(ctx); err != nil {
		return err
	}
	if p.cache != nil {
		p.cache.Invalidate(ctx)
	}
	logger.Info("Collection cleared")
	return nil
}

// Stats reports current collection size and composition.
func (p *Pipeline) Stats() vectorstore.Stats {
	return p.store.Stats()
}

func (p *Pipeline) clampSearchK(k int) int {
	if k <= 0 {
		return p.cfg.DefaultSearchK
	}
	if k > p.cfg.MaxSearchK {
		return p.cfg.MaxSearchK
	}
	return k
}

func attributions(results []vectorstore.ScoredRecord) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = recordAttribution(r.Record)
	}
	return out
}

func recordAttribution(rec vectorstore.VectorRecord) string {
	if rec.Location != "" {
		return fmt.Sprintf("%s (%s)", rec.SourceFile, rec.Location)
	}
	return rec.SourceFile
}

func buildContextPrompt(query string, results []vectorstore.ScoredRecord) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant that answers questions using the provided document excerpts.\n")
	b.WriteString("Base your answer on the context below. If the context does not contain the answer, say so.\n\n")

	for i, r := range results {
		fmt.Fprintf(&b, "Context [%d] (source: %s):\n%s\n\n", i+1, recordAttribution(r.Record), r.Record.Text)
	}

	fmt.Fprintf(&b, "Question: %s\nAnswer:", query)
	return b.String()
}

func buildFallbackPrompt(query string) string {
	return fmt.Sprintf(
		"You are a helpful assistant. No sufficiently relevant documents were found for this question, "+
			"so answer from your general knowledge. Mention that the answer is not based on the uploaded documents.\n\n"+
			"Question: %s\nAnswer:", query)
}
