// Package memory implements the hybrid keyword plus vector memory store on
// SQLite. Keys are hierarchical and colon-separated; stores are upserts.
package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/switchyard-ai/switchyard/pkg/models"
	_ "modernc.org/sqlite" // pure-Go sqlite driver, registers as "sqlite"
)

const embedBatchSize = 32

// Config parameterizes the store.
type Config struct {
	Path          string
	VectorWeight  float64
	KeywordWeight float64
	CacheMaxSize  int
}

// RecallOptions narrows a recall.
type RecallOptions struct {
	Limit     int
	MinScore  float64
	KeyPrefix string
	Filter    map[string]any
}

// Store is the hybrid memory backend. Safe for concurrent use; sqlite
// serializes writers behind a single connection.
type Store struct {
	db            *sql.DB
	embedder      Embedder
	vectorWeight  float64
	keywordWeight float64
	cacheMax      int
	logger        *slog.Logger
}

// NewStore opens (or creates) the database at cfg.Path. A nil embedder
// disables vector scoring; recall degrades to keyword-only.
func NewStore(cfg Config, embedder Embedder, logger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}
	if cfg.VectorWeight <= 0 {
		cfg.VectorWeight = 0.7
	}
	if cfg.KeywordWeight <= 0 {
		cfg.KeywordWeight = 0.3
	}
	if cfg.CacheMaxSize <= 0 {
		cfg.CacheMaxSize = 10000
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	// One connection: sqlite has a single writer, and :memory: databases
	// are per-connection.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:            db,
		embedder:      embedder,
		vectorWeight:  cfg.VectorWeight,
		keywordWeight: cfg.KeywordWeight,
		cacheMax:      cfg.CacheMaxSize,
		logger:        logger.With("component", "memory"),
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			key TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata TEXT,
			embedding BLOB,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
			content,
			content='entries',
			content_rowid='rowid'
		)`,
		`CREATE TRIGGER IF NOT EXISTS entries_ai AFTER INSERT ON entries BEGIN
			INSERT INTO entries_fts(rowid, content) VALUES (new.rowid, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS entries_ad AFTER DELETE ON entries BEGIN
			INSERT INTO entries_fts(entries_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS entries_au AFTER UPDATE OF content ON entries BEGIN
			INSERT INTO entries_fts(entries_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
			INSERT INTO entries_fts(rowid, content) VALUES (new.rowid, new.content);
		END`,
		`CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			created_at DATETIME NOT NULL,
			last_used_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init memory schema: %w", err)
		}
	}
	return nil
}

// Store upserts an entry. Embedding failure is logged and the entry is
// stored keyword-only.
func (s *Store) Store(ctx context.Context, key, content string, metadata map[string]any) error {
	if key == "" {
		return &Error{Op: "store", Err: errors.New("key is required")}
	}

	var embedding []float32
	if s.embedder != nil {
		var err error
		embedding, err = s.embeddingFor(ctx, content)
		if err != nil {
			s.logger.Warn("embedding failed, storing keyword-only", "key", key, "error", err)
			embedding = nil
		}
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return &Error{Op: "store", Err: fmt.Errorf("marshal metadata: %w", err)}
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entries (key, content, metadata, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		key, content, string(metaJSON), encodeEmbedding(embedding), now, now,
	)
	if err != nil {
		return &Error{Op: "store", Err: err}
	}
	return nil
}

// embeddingFor returns the embedding for content, consulting the persistent
// content-hash cache first.
func (s *Store) embeddingFor(ctx context.Context, content string) ([]float32, error) {
	hash := contentHash(content)

	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding FROM embedding_cache WHERE content_hash = ?", hash,
	).Scan(&blob)
	switch {
	case err == nil:
		_, _ = s.db.ExecContext(ctx,
			"UPDATE embedding_cache SET last_used_at = ? WHERE content_hash = ?",
			time.Now().UTC(), hash)
		return decodeEmbedding(blob), nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	vecs, err := s.embedder.Embed(ctx, []string{content})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errors.New("embedder returned no vectors")
	}

	now := time.Now().UTC()
	_, _ = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO embedding_cache (content_hash, embedding, created_at, last_used_at)
		VALUES (?, ?, ?, ?)`, hash, encodeEmbedding(vecs[0]), now, now)
	s.pruneCache(ctx)
	return vecs[0], nil
}

// pruneCache drops the least recently used cache rows beyond the cap.
func (s *Store) pruneCache(ctx context.Context) {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM embedding_cache WHERE content_hash IN (
			SELECT content_hash FROM embedding_cache
			ORDER BY last_used_at DESC
			LIMIT -1 OFFSET ?
		)`, s.cacheMax)
	if err != nil {
		s.logger.Warn("embedding cache prune failed", "error", err)
	}
}

// Recall merges keyword (BM25) and vector (cosine) hits into a ranked list.
// A KeyPrefix strictly scopes results; without one every entry is eligible.
func (s *Store) Recall(ctx context.Context, query string, opts *RecallOptions) ([]*models.RecallResult, error) {
	if opts == nil {
		opts = &RecallOptions{}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	merged := make(map[string]*models.RecallResult)

	if err := s.keywordRecall(ctx, query, opts, merged); err != nil {
		return nil, err
	}
	if s.embedder != nil {
		if err := s.vectorRecall(ctx, query, opts, merged); err != nil {
			// Vector failure degrades recall, it does not fail it.
			s.logger.Warn("vector recall failed, using keyword results", "error", err)
		}
	}

	results := make([]*models.RecallResult, 0, len(merged))
	for _, r := range merged {
		r.Score = s.keywordWeight*r.KeywordScore + s.vectorWeight*r.VectorScore
		if r.Score >= opts.MinScore {
			results = append(results, r)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.Key < results[j].Entry.Key
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Store) keywordRecall(ctx context.Context, query string, opts *RecallOptions, merged map[string]*models.RecallResult) error {
	match := ftsQuote(query)
	if match == "" {
		return nil
	}

	sqlQuery := `
		SELECT e.key, e.content, e.metadata, e.embedding, e.created_at, e.updated_at,
		       bm25(entries_fts) AS rank
		FROM entries_fts
		JOIN entries e ON e.rowid = entries_fts.rowid
		WHERE entries_fts MATCH ?`
	args := []any{match}
	if opts.KeyPrefix != "" {
		sqlQuery += " AND e.key LIKE ? ESCAPE '\\'"
		args = append(args, likePrefix(opts.KeyPrefix))
	}
	sqlQuery += " ORDER BY rank LIMIT 100"

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return &Error{Op: "recall", Err: err}
	}
	defer rows.Close()

	type hit struct {
		entry *models.MemoryEntry
		raw   float64
	}
	var hits []hit
	maxRaw := 0.0
	for rows.Next() {
		entry := &models.MemoryEntry{}
		var metaJSON sql.NullString
		var blob []byte
		var rank float64
		if err := rows.Scan(&entry.Key, &entry.Content, &metaJSON, &blob, &entry.CreatedAt, &entry.UpdatedAt, &rank); err != nil {
			return &Error{Op: "recall", Err: err}
		}
		if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
			if err := json.Unmarshal([]byte(metaJSON.String), &entry.Metadata); err != nil {
				return &Error{Op: "recall", Err: err}
			}
		}
		entry.Embedding = decodeEmbedding(blob)
		if !matchesFilter(entry.Metadata, opts.Filter) {
			continue
		}
		// bm25() reports better matches as lower (negative) ranks.
		raw := -rank
		if raw < 0 {
			raw = 0
		}
		if raw > maxRaw {
			maxRaw = raw
		}
		hits = append(hits, hit{entry: entry, raw: raw})
	}
	if err := rows.Err(); err != nil {
		return &Error{Op: "recall", Err: err}
	}

	for _, h := range hits {
		score := 0.0
		if maxRaw > 0 {
			score = h.raw / maxRaw
		}
		merged[h.entry.Key] = &models.RecallResult{Entry: h.entry, KeywordScore: score}
	}
	return nil
}

func (s *Store) vectorRecall(ctx context.Context, query string, opts *RecallOptions, merged map[string]*models.RecallResult) error {
	queryVec, err := s.embeddingFor(ctx, query)
	if err != nil {
		return err
	}

	sqlQuery := "SELECT key, content, metadata, embedding, created_at, updated_at FROM entries WHERE embedding IS NOT NULL"
	var args []any
	if opts.KeyPrefix != "" {
		sqlQuery += " AND key LIKE ? ESCAPE '\\'"
		args = append(args, likePrefix(opts.KeyPrefix))
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		entry := &models.MemoryEntry{}
		var metaJSON sql.NullString
		var blob []byte
		if err := rows.Scan(&entry.Key, &entry.Content, &metaJSON, &blob, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return err
		}
		if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
			if err := json.Unmarshal([]byte(metaJSON.String), &entry.Metadata); err != nil {
				return err
			}
		}
		entry.Embedding = decodeEmbedding(blob)
		if !matchesFilter(entry.Metadata, opts.Filter) {
			continue
		}
		score := cosineSimilarity(queryVec, entry.Embedding)
		if score <= 0 {
			continue
		}
		if existing, ok := merged[entry.Key]; ok {
			existing.VectorScore = score
		} else {
			merged[entry.Key] = &models.RecallResult{Entry: entry, VectorScore: score}
		}
	}
	return rows.Err()
}

// Forget deletes an entry, reporting whether it existed. The FTS row goes
// with it via trigger in the same statement.
func (s *Store) Forget(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE key = ?", key)
	if err != nil {
		return false, &Error{Op: "forget", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &Error{Op: "forget", Err: err}
	}
	return n > 0, nil
}

// List returns entries, optionally restricted to a key prefix, ordered by key.
func (s *Store) List(ctx context.Context, prefix string) ([]*models.MemoryEntry, error) {
	sqlQuery := "SELECT key, content, metadata, embedding, created_at, updated_at FROM entries"
	var args []any
	if prefix != "" {
		sqlQuery += " WHERE key LIKE ? ESCAPE '\\'"
		args = append(args, likePrefix(prefix))
	}
	sqlQuery += " ORDER BY key"

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, &Error{Op: "list", Err: err}
	}
	defer rows.Close()

	var entries []*models.MemoryEntry
	for rows.Next() {
		entry := &models.MemoryEntry{}
		var metaJSON sql.NullString
		var blob []byte
		if err := rows.Scan(&entry.Key, &entry.Content, &metaJSON, &blob, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return nil, &Error{Op: "list", Err: err}
		}
		if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
			if err := json.Unmarshal([]byte(metaJSON.String), &entry.Metadata); err != nil {
				return nil, &Error{Op: "list", Err: err}
			}
		}
		entry.Embedding = decodeEmbedding(blob)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Reindex rebuilds the FTS index and recomputes missing embeddings in
// batches. Batch failures leave already-indexed entries queryable.
func (s *Store) Reindex(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "INSERT INTO entries_fts(entries_fts) VALUES ('rebuild')"); err != nil {
		return &Error{Op: "reindex", Err: err}
	}
	if s.embedder == nil {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT key, content FROM entries WHERE embedding IS NULL")
	if err != nil {
		return &Error{Op: "reindex", Err: err}
	}
	type pending struct{ key, content string }
	var all []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.key, &p.content); err != nil {
			rows.Close()
			return &Error{Op: "reindex", Err: err}
		}
		all = append(all, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return &Error{Op: "reindex", Err: err}
	}

	var failed int
	for start := 0; start < len(all); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(all) {
			end = len(all)
		}
		batch := all[start:end]
		inputs := make([]string, len(batch))
		for i, p := range batch {
			inputs[i] = p.content
		}
		vecs, err := s.embedder.Embed(ctx, inputs)
		if err != nil || len(vecs) != len(batch) {
			failed += len(batch)
			s.logger.Warn("reindex batch failed", "start", start, "error", err)
			continue
		}
		for i, p := range batch {
			if _, err := s.db.ExecContext(ctx,
				"UPDATE entries SET embedding = ? WHERE key = ?",
				encodeEmbedding(vecs[i]), p.key); err != nil {
				failed++
			}
		}
	}
	if failed > 0 {
		s.logger.Warn("reindex completed with failures", "failed", failed, "total", len(all))
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ftsQuote turns free text into a safe FTS5 match expression: each term is
// quoted, terms are OR'd.
func ftsQuote(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// likePrefix escapes LIKE wildcards so a key prefix matches literally.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

func matchesFilter(metadata, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// encodeEmbedding packs float32s little-endian, 4 bytes each.
func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		bits := uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
