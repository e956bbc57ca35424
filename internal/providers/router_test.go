package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/mobius/internal/telemetry"
)

// noRetry keeps candidate failures instant in tests.
var noRetry = RetryConfig{MaxRetries: 0}

func userMessage(t *testing.T, content string) []json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"role": "user", "content": content})
	if err != nil {
		t.Fatal(err)
	}
	return []json.RawMessage{raw}
}

func completionJSON(content string) string {
	return `{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"` + content + `"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`
}

func TestChatCompletionGeminiRewrite(t *testing.T) {
	var mu sync.Mutex
	var gotModel, gotAuth, gotPath string

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode upstream body: %v", err)
		}
		mu.Lock()
		gotModel, _ = body["model"].(string)
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionJSON("hello")))
	}))
	defer upstream.Close()

	creds := NewCredentialSet("openai-key", "https://unused.example/v1", "gemini-key", upstream.URL+"/openai/v1")
	router := NewRouter(creds, nil).WithRetryConfig(noRetry)

	used, res, err := router.ChatCompletion(context.Background(), "gemini-2.5-flash", userMessage(t, "hi"), false, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if used != "gemini-2.5-flash" {
		t.Errorf("used model = %q, want original name", used)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotModel != "openai/gemini-2.5-flash" {
		t.Errorf("wire model = %q, want rewritten", gotModel)
	}
	if gotAuth != "Bearer gemini-key" {
		t.Errorf("auth = %q, want gemini credentials", gotAuth)
	}
	if gotPath != "/openai/v1/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if got := res.AssistantText(); got != "hello" {
		t.Errorf("assistant text = %q", got)
	}
}

func TestChatCompletionFallbackChain(t *testing.T) {
	var mu sync.Mutex
	var models []string

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		model, _ := body["model"].(string)
		mu.Lock()
		models = append(models, model)
		mu.Unlock()

		if model == "gpt-primary" {
			http.Error(w, `{"error":{"message":"model overloaded"}}`, http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(completionJSON("from fallback")))
	}))
	defer upstream.Close()

	creds := NewCredentialSet("key", upstream.URL, "", "")
	router := NewRouter(creds, []string{"gpt-fallback"}).WithRetryConfig(noRetry)

	used, res, err := router.ChatCompletion(context.Background(), "gpt-primary", userMessage(t, "hi"), false, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if used != "gpt-fallback" {
		t.Errorf("used = %q, want gpt-fallback", used)
	}
	if got := res.AssistantText(); got != "from fallback" {
		t.Errorf("assistant text = %q", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(models) != 2 || models[0] != "gpt-primary" || models[1] != "gpt-fallback" {
		t.Errorf("upstream saw models %v", models)
	}
}

func TestChatCompletionExcludesFallbacks(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer upstream.Close()

	creds := NewCredentialSet("key", upstream.URL, "", "")
	router := NewRouter(creds, []string{"gpt-fallback"}).WithRetryConfig(noRetry)

	_, _, err := router.ChatCompletion(context.Background(), "gpt-primary", userMessage(t, "hi"), false, nil, false)

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if exhausted.Candidates != 1 {
		t.Errorf("candidates = %d, want 1 with fallbacks excluded", exhausted.Candidates)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1", calls)
	}
}

func TestChatCompletionAllCandidatesFail(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"nope"}}`, http.StatusUnauthorized)
	}))
	defer upstream.Close()

	creds := NewCredentialSet("key", upstream.URL, "", "")
	router := NewRouter(creds, []string{"gpt-fallback"}).WithRetryConfig(noRetry)

	_, _, err := router.ChatCompletion(context.Background(), "gpt-primary", userMessage(t, "hi"), false, nil, true)

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusUnauthorized {
		t.Errorf("last error = %v, want wrapped 401", exhausted.Last)
	}
}

func TestChatCompletionNoCandidates(t *testing.T) {
	router := NewRouter(NewCredentialSet("k", "https://unused.example", "", ""), nil).WithRetryConfig(noRetry)

	_, _, err := router.ChatCompletion(context.Background(), "", nil, false, nil, true)
	if !errors.Is(err, ErrNoCandidates) {
		t.Errorf("err = %v, want ErrNoCandidates", err)
	}
}

func TestCandidateDedup(t *testing.T) {
	router := NewRouter(CredentialSet{}, []string{"m1", "m2", "m1", "", "m3"})

	got := router.candidates("m2", true)
	want := []string{"m2", "m1", "m3"}
	if len(got) != len(want) {
		t.Fatalf("candidates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("candidates = %v, want %v", got, want)
		}
	}
}

func TestPassthroughPreservedButNotAuthoritative(t *testing.T) {
	var mu sync.Mutex
	var body map[string]any

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		json.NewDecoder(r.Body).Decode(&body)
		mu.Unlock()
		w.Write([]byte(completionJSON("ok")))
	}))
	defer upstream.Close()

	creds := NewCredentialSet("key", upstream.URL, "", "")
	router := NewRouter(creds, nil).WithRetryConfig(noRetry)

	passthrough := map[string]any{
		"temperature": 0.0,
		"max_tokens":  120,
		"model":       "attacker-model",
		"stream":      true,
		"user":        "alice",
	}
	_, _, err := router.ChatCompletion(context.Background(), "gpt-5.2", userMessage(t, "hi"), false, passthrough, false)
	if err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if body["model"] != "gpt-5.2" {
		t.Errorf("model = %v, want router-chosen", body["model"])
	}
	if body["stream"] != false {
		t.Errorf("stream = %v, want router-chosen", body["stream"])
	}
	if body["temperature"] != 0.0 {
		t.Errorf("temperature = %v, want passthrough", body["temperature"])
	}
	if body["max_tokens"] != float64(120) {
		t.Errorf("max_tokens = %v, want passthrough", body["max_tokens"])
	}
	if body["user"] != "alice" {
		t.Errorf("user = %v, want passthrough", body["user"])
	}
}

func TestChatStreamAdmissionAndIteration(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n"))
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer upstream.Close()

	creds := NewCredentialSet("key", upstream.URL, "", "")
	router := NewRouter(creds, nil).WithRetryConfig(noRetry)

	used, res, err := router.ChatCompletion(context.Background(), "gpt-5.2", userMessage(t, "hi"), true, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if used != "gpt-5.2" {
		t.Errorf("used = %q", used)
	}
	if res.Stream == nil {
		t.Fatal("expected stream body")
	}
	defer res.Stream.Close()

	var lines []string
	scanner := bufio.NewScanner(res.Stream)
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
			lines = append(lines, line)
		}
	}
	if len(lines) != 3 || lines[2] != "data: [DONE]" {
		t.Errorf("stream lines = %v", lines)
	}
}

func TestChatStreamAdmissionFailureFallsBack(t *testing.T) {
	var mu sync.Mutex
	var models []string

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		model, _ := body["model"].(string)
		mu.Lock()
		models = append(models, model)
		mu.Unlock()
		if model == "gpt-primary" {
			http.Error(w, "busy", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer upstream.Close()

	creds := NewCredentialSet("key", upstream.URL, "", "")
	router := NewRouter(creds, []string{"gpt-fallback"}).WithRetryConfig(noRetry)

	used, res, err := router.ChatCompletion(context.Background(), "gpt-primary", userMessage(t, "hi"), true, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Stream.Close()
	if used != "gpt-fallback" {
		t.Errorf("used = %q", used)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(models) != 2 {
		t.Errorf("upstream saw %v", models)
	}
}

func TestEmbedding(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],"model":"text-embedding-3-small"}`))
	}))
	defer upstream.Close()

	creds := NewCredentialSet("key", upstream.URL, "", "")
	router := NewRouter(creds, nil).WithRetryConfig(noRetry)

	used, res, err := router.Embedding(context.Background(), "text-embedding-3-small", "hello world", false)
	if err != nil {
		t.Fatal(err)
	}
	if used != "text-embedding-3-small" {
		t.Errorf("used = %q", used)
	}
	if len(res.Vector) != 3 || res.Vector[1] != 0.2 {
		t.Errorf("vector = %v", res.Vector)
	}
	if len(res.Raw) == 0 {
		t.Error("raw body missing")
	}
}

func TestEmbeddingEmptyInput(t *testing.T) {
	router := NewRouter(NewCredentialSet("k", "https://unused.example", "", ""), nil)

	for _, input := range []string{"", "   \n\t"} {
		_, _, err := router.Embedding(context.Background(), "text-embedding-3-small", input, false)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Embedding(%q) err = %v, want ErrInvalidInput", input, err)
		}
	}
}

func TestEmbeddingMalformedResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer upstream.Close()

	creds := NewCredentialSet("key", upstream.URL, "", "")
	router := NewRouter(creds, nil).WithRetryConfig(noRetry)

	_, _, err := router.Embedding(context.Background(), "text-embedding-3-small", "hello", false)
	if !errors.Is(err, ErrMalformedEmbedding) {
		t.Errorf("err = %v, want ErrMalformedEmbedding through the chain", err)
	}
}

func TestChatCompletionEmitsSpan(t *testing.T) {
	recorder := telemetry.InstallRecorder()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionJSON("hello")))
	}))
	defer upstream.Close()

	creds := NewCredentialSet("openai-key", upstream.URL+"/v1", "", "")
	router := NewRouter(creds, nil).WithRetryConfig(noRetry)

	if _, _, err := router.ChatCompletion(context.Background(), "gpt-5.2", userMessage(t, "hi"), false, nil, false); err != nil {
		t.Fatal(err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans recorded = %d, want 1", len(spans))
	}
	if spans[0].Name() != "provider.chat" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["model.primary"] != "gpt-5.2" || attrs["model.used"] != "gpt-5.2" {
		t.Errorf("span attributes = %v", attrs)
	}

	// An exhausted chain marks the span as an error.
	failing := NewRouter(NewCredentialSet("k", "http://127.0.0.1:0/v1", "", ""), nil).WithRetryConfig(noRetry)
	if _, _, err := failing.ChatCompletion(context.Background(), "gpt-5.2", userMessage(t, "hi"), false, nil, false); err == nil {
		t.Fatal("expected exhausted error")
	}
	spans = recorder.Ended()
	last := spans[len(spans)-1]
	if last.Status().Code != codes.Error {
		t.Errorf("failed call span status = %v", last.Status())
	}
}
