package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"time"
)

// Client talks to one configured provider. It is safe for concurrent use:
// the underlying http.Client is shared and the rate-limit gate coordinates
// all in-flight workers.
type Client struct {
	prov Provider
	// MaxRetries is the retry budget per call for rate limits and
	// transient failures. Defaults to 3.
	MaxRetries int
	// Verbose enables request-level debug logging.
	Verbose bool

	httpc *http.Client
	rl    *rateLimitState
}

// NewClient builds a client for the given provider configuration.
func NewClient(prov Provider) *Client {
	timeout := prov.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		prov:       prov,
		MaxRetries: 3,
		httpc:      makeHTTPClient(prov.Proxy, timeout),
		rl:         &rateLimitState{},
	}
}

// Provider returns the client's provider configuration.
func (c *Client) Provider() Provider {
	return c.prov
}

// waitIfPaused blocks until the shared rate-limit pause is over.
func (c *Client) waitIfPaused(ctx context.Context) error {
	for {
		remaining := c.rl.remaining()
		if remaining <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(remaining, 100*time.Millisecond)):
		}
	}
}

// post issues one POST with retry on 429 and transient failures. The
// response body is returned for 200 responses only; everything else becomes
// a *GenError.
func (c *Client) post(ctx context.Context, endpoint string, headers map[string]string, body []byte) ([]byte, error) {
	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		// Wait out a rate-limit pause triggered by another worker.
		if err := c.waitIfPaused(ctx); err != nil {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, &GenError{Provider: c.prov.ID, Msg: "creating request", Err: err}
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		if c.Verbose {
			log.Printf("[DEBUG] %s attempt %d: POST %s", c.prov.Name, attempt+1, endpoint)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			if attempt < maxRetries {
				wait := time.Duration(math.Pow(2, float64(attempt))) * time.Second
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(wait):
				}
				continue
			}
			return nil, &GenError{Provider: c.prov.ID, Msg: "API request failed", Err: err}
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			retryDelay := parseRetryDelay(respBody)
			if c.Verbose {
				log.Printf("[WARN] %s 429 rate limited, waiting %v (attempt %d/%d)", c.prov.Name, retryDelay, attempt+1, maxRetries)
			}
			// Pause every worker, not just this one.
			c.rl.pause(retryDelay)
			if attempt < maxRetries {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(retryDelay):
				}
				c.rl.unpause()
				continue
			}
			return nil, &GenError{Provider: c.prov.ID, Status: resp.StatusCode,
				Msg: fmt.Sprintf("rate limited after %d retries: %s", maxRetries, truncate(string(respBody), 300))}
		}

		if resp.StatusCode != http.StatusOK {
			if attempt < maxRetries && resp.StatusCode >= 500 {
				wait := time.Duration(math.Pow(2, float64(attempt))) * time.Second
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(wait):
				}
				continue
			}
			return nil, &GenError{Provider: c.prov.ID, Status: resp.StatusCode,
				Msg: truncate(string(respBody), 500)}
		}

		return respBody, nil
	}

	return nil, &GenError{Provider: c.prov.ID, Msg: fmt.Sprintf("exhausted all %d retries", maxRetries)}
}

// generate sends a system+user prompt pair and returns the raw response text.
func (c *Client) generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	endpoint, headers, body, err := buildGenerateRequest(c.prov, systemPrompt, userPrompt)
	if err != nil {
		return "", &GenError{Provider: c.prov.ID, Msg: "building request", Err: err}
	}

	respBody, err := c.post(ctx, endpoint, headers, body)
	if err != nil {
		return "", err
	}

	text, err := extractResponseText(respBody)
	if err != nil {
		return "", &GenError{Provider: c.prov.ID, Msg: err.Error()}
	}
	return text, nil
}

// Translate produces a translation for one source string, embedding the
// retrieval context (similar examples, glossary terms, usage hint) into the
// prompt.
func (c *Client) Translate(ctx context.Context, req Request) (string, error) {
	system := resolveSystemPrompt(TranslateSystemPrompt, req.Language)
	user := buildTranslatePrompt(req)

	text, err := c.generate(ctx, system, user)
	if err != nil {
		return "", err
	}
	return cleanTranslation(text), nil
}

// Review asks the model to critique an existing translation. The response
// is parsed from the IMPROVED/CHANGES two-field format; a malformed
// response falls back to the existing translation with empty changes.
func (c *Client) Review(ctx context.Context, req ReviewRequest) (Review, error) {
	system := resolveSystemPrompt(ReviewSystemPrompt, req.Language)
	user := buildReviewPrompt(req)

	text, err := c.generate(ctx, system, user)
	if err != nil {
		return Review{}, err
	}
	return parseReview(text, req.Existing), nil
}

// ---------------------------------------------------------------------------
// Embeddings
// ---------------------------------------------------------------------------

// Embed produces an embedding vector for one text using the provider's
// embedding endpoint.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.prov.EmbedModel == "" {
		return nil, &GenError{Provider: c.prov.ID,
			Msg: "provider has no embedding model configured"}
	}

	endpoint, headers, body, err := buildEmbedRequest(c.prov, text)
	if err != nil {
		return nil, &GenError{Provider: c.prov.ID, Msg: "building embed request", Err: err}
	}

	respBody, err := c.post(ctx, endpoint, headers, body)
	if err != nil {
		return nil, err
	}

	vec, err := extractEmbedding(respBody)
	if err != nil {
		return nil, &GenError{Provider: c.prov.ID, Msg: err.Error()}
	}
	return vec, nil
}

// buildEmbedRequest constructs the embedding call per provider family.
func buildEmbedRequest(prov Provider, text string) (string, map[string]string, []byte, error) {
	headers := map[string]string{
		"Content-Type": "application/json",
	}

	var endpoint string
	var body []byte
	var err error

	switch prov.ID {
	case ProviderGoogle:
		// POST /v1beta/models/{model}:embedContent
		endpoint = fmt.Sprintf("%s/v1beta/models/%s:embedContent",
			strings.TrimRight(prov.BaseURL, "/"), prov.EmbedModel)
		if prov.APIKey != "" {
			headers["x-goog-api-key"] = prov.APIKey
		}
		type part struct {
			Text string `json:"text"`
		}
		req := struct {
			Model   string `json:"model"`
			Content struct {
				Parts []part `json:"parts"`
			} `json:"content"`
		}{Model: "models/" + prov.EmbedModel}
		req.Content.Parts = []part{{Text: text}}
		body, err = json.Marshal(req)

	case ProviderOllama:
		endpoint = strings.TrimRight(prov.BaseURL, "/") + "/api/embeddings"
		req := struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}{Model: prov.EmbedModel, Prompt: text}
		body, err = json.Marshal(req)

	default: // OpenAI-compatible: openai, groq, custom-openai
		endpoint = strings.TrimRight(prov.BaseURL, "/") + "/embeddings"
		if prov.APIKey != "" {
			headers["Authorization"] = "Bearer " + prov.APIKey
		}
		req := struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}{Model: prov.EmbedModel, Input: []string{text}}
		body, err = json.Marshal(req)
	}

	if err != nil {
		return "", nil, nil, err
	}
	return endpoint, headers, body, nil
}

// extractEmbedding parses the embedding vector from any of the known
// response shapes.
func extractEmbedding(body []byte) ([]float32, error) {
	// OpenAI format: data[0].embedding
	var openai struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &openai); err == nil && len(openai.Data) > 0 && len(openai.Data[0].Embedding) > 0 {
		return openai.Data[0].Embedding, nil
	}

	// Gemini format: embedding.values
	var gemini struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	if err := json.Unmarshal(body, &gemini); err == nil && len(gemini.Embedding.Values) > 0 {
		return gemini.Embedding.Values, nil
	}

	// Ollama format: embedding
	var ollama struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(body, &ollama); err == nil && len(ollama.Embedding) > 0 {
		return ollama.Embedding, nil
	}

	return nil, fmt.Errorf("could not extract embedding from response: %s", truncate(string(body), 300))
}
