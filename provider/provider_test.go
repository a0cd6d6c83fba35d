package provider

import (
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// extractResponseText
// ---------------------------------------------------------------------------

func TestExtractResponseText_Formats(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "openai chat",
			body: `{"choices":[{"message":{"role":"assistant","content":"こんにちは"}}]}`,
			want: "こんにちは",
		},
		{
			name: "gemini native",
			body: `{"candidates":[{"content":{"parts":[{"text":"Hallo"}]}}]}`,
			want: "Hallo",
		},
		{
			name: "anthropic",
			body: `{"content":[{"type":"text","text":"Bonjour"}]}`,
			want: "Bonjour",
		},
	}

	for _, tc := range cases {
		got, err := extractResponseText([]byte(tc.body))
		if err != nil {
			t.Fatalf("%s: error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestExtractResponseText_APIError(t *testing.T) {
	_, err := extractResponseText([]byte(`{"error":{"message":"quota exceeded"}}`))
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected API error, got %v", err)
	}
}

func TestExtractResponseText_Unknown(t *testing.T) {
	if _, err := extractResponseText([]byte(`{"something":"else"}`)); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if _, err := extractResponseText([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// ---------------------------------------------------------------------------
// parseRetryDelay
// ---------------------------------------------------------------------------

func TestParseRetryDelay(t *testing.T) {
	body := `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"30s"}]}}`
	got := parseRetryDelay([]byte(body))
	if got != 35*time.Second {
		t.Errorf("got %v, want 35s", got)
	}

	if got := parseRetryDelay([]byte(`{}`)); got != 65*time.Second {
		t.Errorf("default delay = %v, want 65s", got)
	}
	if got := parseRetryDelay([]byte(`garbage`)); got != 65*time.Second {
		t.Errorf("garbage delay = %v, want 65s", got)
	}
}

// ---------------------------------------------------------------------------
// Prompt construction
// ---------------------------------------------------------------------------

func TestBuildTranslatePrompt(t *testing.T) {
	req := Request{
		Text:     "Save changes",
		Language: "ja",
		Context:  "button label",
		Similar: []Example{
			{Source: "Save", Translation: "保存", Similarity: 0.91},
		},
		Glossary: map[string]string{
			"Wallet": "ウォレット",
			"Ledger": "台帳",
		},
	}

	prompt := buildTranslatePrompt(req)

	for _, want := range []string{
		"USAGE CONTEXT: button label",
		"SIMILAR APPROVED TRANSLATIONS:",
		`"Save" => "保存" (similarity 0.91)`,
		"GLOSSARY (mandatory translations):",
		"Translate this string to Japanese:",
		"Save changes",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}

	// Glossary terms are sorted for prompt stability.
	if strings.Index(prompt, `"Ledger"`) > strings.Index(prompt, `"Wallet"`) {
		t.Errorf("glossary not sorted:\n%s", prompt)
	}
}

func TestBuildTranslatePrompt_Minimal(t *testing.T) {
	prompt := buildTranslatePrompt(Request{Text: "Hello", Language: "de"})
	if strings.Contains(prompt, "GLOSSARY") || strings.Contains(prompt, "SIMILAR") || strings.Contains(prompt, "USAGE CONTEXT") {
		t.Errorf("minimal prompt has empty sections:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Translate this string to German:") {
		t.Errorf("prompt missing instruction:\n%s", prompt)
	}
}

func TestResolveSystemPrompt(t *testing.T) {
	got := resolveSystemPrompt(TranslateSystemPrompt, "ja")
	if strings.Contains(got, "{{targetLang}}") {
		t.Error("placeholder not substituted")
	}
	if !strings.Contains(got, "Japanese") {
		t.Error("language name missing")
	}
}

// ---------------------------------------------------------------------------
// Review parsing
// ---------------------------------------------------------------------------

func TestParseReview(t *testing.T) {
	cases := []struct {
		name         string
		text         string
		wantImproved string
		wantChanges  string
	}{
		{
			name:         "well formed",
			text:         "IMPROVED: 送信する\nCHANGES: made the verb explicit",
			wantImproved: "送信する",
			wantChanges:  "made the verb explicit",
		},
		{
			name:         "no changes needed",
			text:         "IMPROVED: 送信\nCHANGES: no changes needed",
			wantImproved: "送信",
			wantChanges:  "no changes needed",
		},
		{
			name:         "markers missing falls back",
			text:         "I think the translation is fine as it is.",
			wantImproved: "送信",
			wantChanges:  "",
		},
		{
			name:         "wrapped in code fence",
			text:         "```\nIMPROVED: 送信済み\nCHANGES: tense fix\n```",
			wantImproved: "送信済み",
			wantChanges:  "tense fix",
		},
	}

	for _, tc := range cases {
		got := parseReview(tc.text, "送信")
		if got.Improved != tc.wantImproved {
			t.Errorf("%s: improved = %q, want %q", tc.name, got.Improved, tc.wantImproved)
		}
		if got.Changes != tc.wantChanges {
			t.Errorf("%s: changes = %q, want %q", tc.name, got.Changes, tc.wantChanges)
		}
	}
}

func TestCleanTranslation(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  保存  ", "保存"},
		{"\"保存\"", "保存"},
		{"```\n保存\n```", "保存"},
		{"```text\n保存\n```", "保存"},
		{"保存", "保存"},
	}
	for _, tc := range cases {
		if got := cleanTranslation(tc.in); got != tc.want {
			t.Errorf("cleanTranslation(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Embedding response parsing
// ---------------------------------------------------------------------------

func TestExtractEmbedding_Formats(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"openai", `{"data":[{"embedding":[0.1,0.2,0.3]}]}`},
		{"gemini", `{"embedding":{"values":[0.1,0.2,0.3]}}`},
		{"ollama", `{"embedding":[0.1,0.2,0.3]}`},
	}
	for _, tc := range cases {
		vec, err := extractEmbedding([]byte(tc.body))
		if err != nil {
			t.Fatalf("%s: error: %v", tc.name, err)
		}
		if len(vec) != 3 {
			t.Errorf("%s: got %d dims, want 3", tc.name, len(vec))
		}
	}

	if _, err := extractEmbedding([]byte(`{}`)); err == nil {
		t.Fatal("expected error for empty response")
	}
}

// ---------------------------------------------------------------------------
// Request builders
// ---------------------------------------------------------------------------

func TestBuildGenerateRequest_PerFormat(t *testing.T) {
	base := Provider{BaseURL: "https://api.example.com/v1", APIKey: "sk-test", Model: "m1"}

	openai := base
	openai.ID = ProviderOpenAI
	endpoint, headers, body, err := buildGenerateRequest(openai, "sys", "user")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(endpoint, "/chat/completions") {
		t.Errorf("openai endpoint = %q", endpoint)
	}
	if headers["Authorization"] != "Bearer sk-test" {
		t.Errorf("openai auth header = %q", headers["Authorization"])
	}
	if !strings.Contains(string(body), `"temperature":0.2`) {
		t.Errorf("openai body missing low temperature: %s", body)
	}

	google := base
	google.ID = ProviderGoogle
	endpoint, headers, _, err = buildGenerateRequest(google, "sys", "user")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(endpoint, ":generateContent") {
		t.Errorf("google endpoint = %q", endpoint)
	}
	if headers["x-goog-api-key"] != "sk-test" {
		t.Errorf("google key header = %q", headers["x-goog-api-key"])
	}

	anthropic := base
	anthropic.ID = ProviderAnthropic
	endpoint, headers, _, err = buildGenerateRequest(anthropic, "sys", "user")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(endpoint, "/messages") {
		t.Errorf("anthropic endpoint = %q", endpoint)
	}
	if headers["anthropic-version"] == "" || headers["x-api-key"] != "sk-test" {
		t.Errorf("anthropic headers = %v", headers)
	}
}
