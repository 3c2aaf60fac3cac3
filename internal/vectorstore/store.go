// Package vectorstore owns the persistent similarity index and the embedding
// function. It is the only component allowed to mutate the collection.
//
// The collection lives in a single SQLite file (pure Go driver, no cgo) so a
// persist path is all the configuration the rest of the system needs. Vectors
// are ranked by brute-force cosine or L2 similarity over an in-memory index
// that is loaded once at open and kept in sync with the database.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"document-qa-platform/models"
	"document-qa-platform/utils"
)

var (
	// ErrStoreInit reports an unusable persist path or an existing collection
	// whose schema is incompatible with the configured store.
	ErrStoreInit = errors.New("vector store initialization failed")

	// ErrEmbedding reports a failed embedding call during add or query.
	ErrEmbedding = errors.New("embedding failed")

	// ErrDimensionMismatch reports an insert whose vector length differs from
	// the collection's fixed dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedder produces a fixed-length vector for a text. The dimensionality must
// be stable across calls for the lifetime of a collection.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const (
	SimilarityCosine = "cosine"
	SimilarityL2     = "l2"
)

// Options configures a Store.
type Options struct {
	CollectionName string
	PersistPath    string
	Similarity     string // cosine (default) or l2, fixed at first open
	Embedder       Embedder
}

// VectorRecord is what the store persists per chunk. Text and metadata are
// stored alongside the vector so retrieval never touches the original files.
type VectorRecord struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	SourceFile    string `json:"source_file"`
	Location      string `json:"location,omitempty"`
	SequenceIndex int    `json:"sequence_index"`
}

// ScoredRecord pairs a record with its similarity to the query.
type ScoredRecord struct {
	Record VectorRecord `json:"record"`
	Score  float64      `json:"score"`
}

// RetrievalResult is the ranked outcome of one query, ordered by descending
// similarity. It is never persisted.
type RetrievalResult struct {
	Results []ScoredRecord `json:"results"`
}

// Confidence is the top result's similarity, or 0 when nothing was retrieved.
func (r *RetrievalResult) Confidence() float64 {
	if len(r.Results) == 0 {
		return 0
	}
	return r.Results[0].Score
}

// Stats summarizes the collection for the health/status endpoint.
type Stats struct {
	RecordCount    int    `json:"record_count"`
	DistinctFiles  int    `json:"distinct_files"`
	CollectionName string `json:"collection_name"`
}

type indexEntry struct {
	record    VectorRecord
	embedding []float32
	norm      float64
}

// Store is safe for concurrent use. Reads proceed in parallel; inserts are
// atomic per record; DeleteAll is exclusive so a query never observes a
// partially cleared collection.
type Store struct {
	mu         sync.RWMutex
	db         *sql.DB
	name       string
	similarity string
	embedder   Embedder
	dimension  int
	index      map[string]*indexEntry
}

// Open opens or creates the persistent collection at opts.PersistPath.
func Open(opts Options) (*Store, error) {
	if opts.Embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", ErrStoreInit)
	}
	similarity := opts.Similarity
	if similarity == "" {
		similarity = SimilarityCosine
	}
	if similarity != SimilarityCosine && similarity != SimilarityL2 {
		return nil, fmt.Errorf("%w: unknown similarity %q", ErrStoreInit, opts.Similarity)
	}

	if dir := filepath.Dir(opts.PersistPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreInit, err)
		}
	}

	db, err := sql.Open("sqlite", opts.PersistPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreInit, err)
	}

	s := &Store{
		db:         db,
		name:       opts.CollectionName,
		similarity: similarity,
		embedder:   opts.Embedder,
		index:      make(map[string]*indexEntry),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadIndex(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS collections (
	name       TEXT PRIMARY KEY,
	dimension  INTEGER NOT NULL,
	similarity TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	id             TEXT PRIMARY KEY,
	collection     TEXT NOT NULL,
	source_file    TEXT NOT NULL,
	location       TEXT,
	sequence_index INTEGER NOT NULL,
	text           BLOB NOT NULL,
	compression    TEXT NOT NULL,
	embedding      BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_source ON records(collection, source_file);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreInit, err)
	}

	var dim int
	var similarity string
	err := s.db.QueryRow(`SELECT dimension, similarity FROM collections WHERE name = ?`, s.name).
		Scan(&dim, &similarity)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.Exec(`INSERT INTO collections (name, dimension, similarity) VALUES (?, 0, ?)`,
			s.name, s.similarity); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreInit, err)
		}
	case err != nil:
		return fmt.Errorf("%w: %v", ErrStoreInit, err)
	default:
		if similarity != s.similarity {
			return fmt.Errorf("%w: collection %q uses %s similarity, configured %s",
				ErrStoreInit, s.name, similarity, s.similarity)
		}
		s.dimension = dim
	}

	return nil
}

func (s *Store) loadIndex() error {
	rows, err := s.db.Query(
		`SELECT id, source_file, location, sequence_index, text, compression, embedding
		 FROM records WHERE collection = ?`, s.name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreInit, err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec VectorRecord
		var textBlob, embBlob []byte
		var compression string
		if err := rows.Scan(&rec.ID, &rec.SourceFile, &rec.Location, &rec.SequenceIndex,
			&textBlob, &compression, &embBlob); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreInit, err)
		}

		text, err := utils.DecompressText(textBlob, utils.CompressionAlgorithm(compression))
		if err != nil {
			return fmt.Errorf("%w: record %s: %v", ErrStoreInit, rec.ID, err)
		}
		rec.Text = text

		emb := decodeVector(embBlob)
		if s.dimension == 0 {
			s.dimension = len(emb)
		} else if len(emb) != s.dimension {
			return fmt.Errorf("%w: record %s has dimension %d, collection %d",
				ErrStoreInit, rec.ID, len(emb), s.dimension)
		}

		s.index[rec.ID] = &indexEntry{record: rec, embedding: emb, norm: vectorNorm(emb)}
	}
	return rows.Err()
}

// Add embeds each chunk and upserts it by id. Re-adding an existing id
// replaces its stored text and embedding. Inserts are per-record atomic:
// on an embedding failure the records already written stay in the collection
// and the error is returned.
func (s *Store) Add(ctx context.Context, chunks []models.DocumentChunk) error {
	for _, chunk := range chunks {
		// Embedding is remote I/O; never hold the store lock across it.
		emb, err := s.embedder.Embed(ctx, chunk.Text)
		if err != nil {
			return fmt.Errorf("%w: chunk %s: %v", ErrEmbedding, chunk.ID, err)
		}
		if err := s.upsert(chunk, emb); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsert(chunk models.DocumentChunk, emb []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension == 0 {
		if _, err := s.db.Exec(`UPDATE collections SET dimension = ? WHERE name = ?`,
			len(emb), s.name); err != nil {
			return fmt.Errorf("failed to fix collection dimension: %w", err)
		}
		s.dimension = len(emb)
	} else if len(emb) != s.dimension {
		return fmt.Errorf("%w: chunk %s has dimension %d, collection %d",
			ErrDimensionMismatch, chunk.ID, len(emb), s.dimension)
	}

	textBlob, compression, err := utils.CompressText(chunk.Text)
	if err != nil {
		return fmt.Errorf("failed to compress chunk %s: %w", chunk.ID, err)
	}

	location := chunk.Location.String()
	_, err = s.db.Exec(
		`INSERT INTO records (id, collection, source_file, location, sequence_index, text, compression, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			source_file = excluded.source_file,
			location = excluded.location,
			sequence_index = excluded.sequence_index,
			text = excluded.text,
			compression = excluded.compression,
			embedding = excluded.embedding`,
		chunk.ID, s.name, chunk.SourceFile, location, chunk.SequenceIndex,
		textBlob, string(compression), encodeVector(emb))
	if err != nil {
		return fmt.Errorf("failed to upsert chunk %s: %w", chunk.ID, err)
	}

	s.index[chunk.ID] = &indexEntry{
		record: VectorRecord{
			ID:            chunk.ID,
			Text:          chunk.Text,
			SourceFile:    chunk.SourceFile,
			Location:      location,
			SequenceIndex: chunk.SequenceIndex,
		},
		embedding: emb,
		norm:      vectorNorm(emb),
	}
	return nil
}

// Query embeds the query text and returns up to k records ranked by
// descending similarity. When fileFilter is non-empty only records from that
// source file are considered. An empty collection yields an empty result,
// not an error.
func (s *Store) Query(ctx context.Context, text string, k int, fileFilter string) (*RetrievalResult, error) {
	s.mu.RLock()
	empty := len(s.index) == 0
	s.mu.RUnlock()
	if empty {
		return &RetrievalResult{}, nil
	}

	queryEmb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrEmbedding, err)
	}
	queryNorm := vectorNorm(queryEmb)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dimension != 0 && len(queryEmb) != s.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, collection %d",
			ErrDimensionMismatch, len(queryEmb), s.dimension)
	}

	scored := make([]ScoredRecord, 0, len(s.index))
	for _, entry := range s.index {
		if fileFilter != "" && entry.record.SourceFile != fileFilter {
			continue
		}
		scored = append(scored, ScoredRecord{
			Record: entry.record,
			Score:  s.score(queryEmb, queryNorm, entry),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Record.ID < scored[j].Record.ID
	})

	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return &RetrievalResult{Results: scored}, nil
}

func (s *Store) score(query []float32, queryNorm float64, entry *indexEntry) float64 {
	switch s.similarity {
	case SimilarityL2:
		var sum float64
		for i := range query {
			d := float64(query[i]) - float64(entry.embedding[i])
			sum += d * d
		}
		return 1.0 / (1.0 + math.Sqrt(sum))
	default: // cosine
		if queryNorm == 0 || entry.norm == 0 {
			return 0
		}
		var dot float64
		for i := range query {
			dot += float64(query[i]) * float64(entry.embedding[i])
		}
		return dot / (queryNorm * entry.norm)
	}
}

// DeleteAll irreversibly clears the collection. It holds the write lock for
// the whole operation, so concurrent adds and queries wait rather than see a
// half-cleared index.
func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, s.name); err != nil {
		return fmt.Errorf("failed to clear collection %q: %w", s.name, err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE collections SET dimension = 0 WHERE name = ?`, s.name); err != nil {
		return fmt.Errorf("failed to reset collection %q: %w", s.name, err)
	}

	s.index = make(map[string]*indexEntry)
	s.dimension = 0
	return nil
}

// Stats reports the current collection size.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files := make(map[string]struct{})
	for _, entry := range s.index {
		files[entry.record.SourceFile] = struct{}{}
	}
	return Stats{
		RecordCount:    len(s.index),
		DistinctFiles:  len(files),
		CollectionName: s.name,
	}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}
