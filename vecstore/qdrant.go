package vecstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// qdrant talks to a Qdrant instance over its REST API.
type qdrant struct {
	baseURL    string
	apiKey     string
	collection string
	dimension  int
	emb        Embedder
	httpc      *http.Client
	ready      bool
}

func newQdrant(cfg Config, emb Embedder) *qdrant {
	collection := cfg.Collection
	if collection == "" {
		collection = "weft"
	}
	return &qdrant{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: collection,
		dimension:  cfg.Dimension,
		emb:        emb,
		httpc:      &http.Client{Timeout: 30 * time.Second},
	}
}

// wrap turns any error into a *BackendError for this backend.
func (q *qdrant) wrap(op string, err error) error {
	return &BackendError{Backend: "qdrant", Op: op, Err: err}
}

// do issues one request and decodes the response into out (when non-nil).
func (q *qdrant) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		excerpt := string(respBody)
		if len(excerpt) > 300 {
			excerpt = excerpt[:300] + "..."
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, excerpt)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// Init ensures the collection exists, probing the embedder for the vector
// size when it was not configured. Idempotent: an existing collection is
// left untouched.
func (q *qdrant) Init(ctx context.Context) error {
	if q.ready {
		return nil
	}

	// Existing collection?
	err := q.do(ctx, "GET", "/collections/"+q.collection, nil, nil)
	if err == nil {
		q.ready = true
		return nil
	}

	if q.dimension == 0 {
		vec, err := q.emb.Embed(ctx, "dimension probe")
		if err != nil {
			return q.wrap("init: probing embedding size", err)
		}
		q.dimension = len(vec)
	}

	create := map[string]any{
		"vectors": map[string]any{
			"size":     q.dimension,
			"distance": "Cosine",
		},
	}
	if err := q.do(ctx, "PUT", "/collections/"+q.collection, create, nil); err != nil {
		return q.wrap("init: creating collection", err)
	}
	q.ready = true
	return nil
}

// pointID derives a deterministic UUID-shaped id from (language, source) so
// re-adding the same pair overwrites instead of duplicating. Qdrant point
// ids must be unsigned integers or UUIDs.
func pointID(language, source string) string {
	sum := md5.Sum([]byte(language + "\x00" + source))
	return fmt.Sprintf("%x-%x-%x-%x-%x", sum[0:4], sum[4:6], sum[6:8], sum[8:10], sum[10:16])
}

// Add embeds the source text and upserts one point.
func (q *qdrant) Add(ctx context.Context, rec Record) error {
	vec, err := q.emb.Embed(ctx, rec.Source)
	if err != nil {
		return q.wrap("add: embedding", err)
	}

	body := map[string]any{
		"points": []map[string]any{
			{
				"id":     pointID(rec.Language, rec.Source),
				"vector": vec,
				"payload": map[string]string{
					"source":      rec.Source,
					"translation": rec.Translation,
					"language":    rec.Language,
					"context":     rec.Context,
				},
			},
		},
	}
	if err := q.do(ctx, "PUT", "/collections/"+q.collection+"/points?wait=true", body, nil); err != nil {
		return q.wrap("add: upserting point", err)
	}
	return nil
}

// Query embeds the text and runs a language-filtered nearest-neighbor
// search.
func (q *qdrant) Query(ctx context.Context, text, language string, limit int) ([]Match, error) {
	if limit <= 0 {
		return nil, nil
	}

	vec, err := q.emb.Embed(ctx, text)
	if err != nil {
		return nil, q.wrap("query: embedding", err)
	}

	body := map[string]any{
		"vector":       vec,
		"limit":        limit,
		"with_payload": true,
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "language", "match": map[string]string{"value": language}},
			},
		},
	}

	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload struct {
				Source      string `json:"source"`
				Translation string `json:"translation"`
			} `json:"payload"`
		} `json:"result"`
	}
	if err := q.do(ctx, "POST", "/collections/"+q.collection+"/points/search", body, &resp); err != nil {
		return nil, q.wrap("query: searching", err)
	}

	matches := make([]Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		score := r.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		matches = append(matches, Match{
			Source:      r.Payload.Source,
			Translation: r.Payload.Translation,
			Similarity:  score,
		})
	}
	return matches, nil
}

// Close releases idle connections. Safe to call multiple times.
func (q *qdrant) Close() error {
	q.httpc.CloseIdleConnections()
	return nil
}
