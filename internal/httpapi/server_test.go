package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/mobius/internal/config"
	"github.com/nextlevelbuilder/mobius/internal/orchestrator"
	"github.com/nextlevelbuilder/mobius/internal/providers"
	"github.com/nextlevelbuilder/mobius/pkg/oai"
)

type fakeOrch struct {
	turn         *orchestrator.Turn
	err          error
	footer       string
	finishedText string
	lastBearer   string
	lastReq      *oai.ChatRequest
}

func (f *fakeOrch) Run(ctx context.Context, bearer string, req *oai.ChatRequest) (*orchestrator.Turn, error) {
	f.lastBearer = bearer
	f.lastReq = req
	return f.turn, f.err
}

func (f *fakeOrch) Finish(ctx context.Context, turn *orchestrator.Turn, assistantText string) string {
	f.finishedText = assistantText
	return f.footer
}

func (f *fakeOrch) SessionCount() int { return 7 }

type fakeEmbedder struct {
	raw []byte
	err error
}

func (f *fakeEmbedder) Embedding(ctx context.Context, model, input string, includeFallbacks bool) (string, *providers.EmbeddingResult, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return model, &providers.EmbeddingResult{Raw: f.raw}, nil
}

func completionRaw(content string) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-upstream",
		"object": "chat.completion",
		"model":  "gpt-5.2",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
	})
	return raw
}

func nonStreamTurn(content string) *orchestrator.Turn {
	return &orchestrator.Turn{
		TurnID:    "t1",
		UserID:    "alice",
		UsedModel: "gpt-5.2",
		Reply:     &providers.ChatResult{Raw: completionRaw(content)},
	}
}

func testServer(t *testing.T, orch TurnRunner, mutate func(*config.Config)) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Server.APIKeys = []string{"sk-good"}
	if mutate != nil {
		mutate(cfg)
	}
	s := NewServer(*cfg, orch, &fakeEmbedder{raw: []byte(`{"object":"list","data":[{"embedding":[0.1]}]}`)}, nil, nil, "test")
	srv := httptest.NewServer(s.BuildMux())
	t.Cleanup(srv.Close)
	return srv
}

func postChat(t *testing.T, srv *httptest.Server, token, body string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat/completions", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

const chatBody = `{"model":"mobius","messages":[{"role":"user","content":"hello"}],"user":"alice"}`

func TestAuthRequired(t *testing.T) {
	srv := testServer(t, &fakeOrch{turn: nonStreamTurn("hi")}, nil)

	resp := postChat(t, srv, "", chatBody)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", resp.StatusCode)
	}
	var e oai.Error
	json.NewDecoder(resp.Body).Decode(&e)
	if e.Error.Code != "auth_required" {
		t.Errorf("code = %q", e.Error.Code)
	}

	resp = postChat(t, srv, "sk-wrong", chatBody)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token status = %d", resp.StatusCode)
	}
}

func TestAuthDisabledWithoutKeys(t *testing.T) {
	srv := testServer(t, &fakeOrch{turn: nonStreamTurn("hi")}, func(cfg *config.Config) {
		cfg.Server.APIKeys = nil
	})
	resp := postChat(t, srv, "", chatBody)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", resp.StatusCode)
	}
}

func TestChatRejectsUnknownModel(t *testing.T) {
	srv := testServer(t, &fakeOrch{turn: nonStreamTurn("hi")}, nil)
	resp := postChat(t, srv, "sk-good", `{"model":"gpt-4o","messages":[{"role":"user","content":"x"}]}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var e oai.Error
	json.NewDecoder(resp.Body).Decode(&e)
	if e.Error.Code != "model_not_found" {
		t.Errorf("code = %q", e.Error.Code)
	}
}

func TestChatAllowsPassthroughModel(t *testing.T) {
	orch := &fakeOrch{turn: nonStreamTurn("hi")}
	srv := testServer(t, orch, func(cfg *config.Config) {
		cfg.API.AllowProviderModelPassthrough = true
	})
	resp := postChat(t, srv, "sk-good", `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"x"}]}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if orch.lastReq.Model != "gemini-2.5-pro" {
		t.Errorf("model = %q", orch.lastReq.Model)
	}
}

func TestChatNonStreamAppendsFooter(t *testing.T) {
	orch := &fakeOrch{turn: nonStreamTurn("All logged."), footer: "\n\n---\n*State warning:* x"}
	srv := testServer(t, orch, nil)

	resp := postChat(t, srv, "sk-good", chatBody)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var doc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	want := "All logged.\n\n---\n*State warning:* x"
	if doc.Choices[0].Message.Content != want {
		t.Errorf("content = %q", doc.Choices[0].Message.Content)
	}
	if orch.finishedText != "All logged." {
		t.Errorf("pipeline saw %q", orch.finishedText)
	}
	if orch.lastBearer != "sk-good" {
		t.Errorf("bearer = %q", orch.lastBearer)
	}
}

func TestChatStreamInsertsFooterDelta(t *testing.T) {
	upstream := strings.Join([]string{
		`data: {"id":"chatcmpl-up","object":"chat.completion.chunk","created":123,"model":"gpt-5.2","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		``,
		`data: {"id":"chatcmpl-up","object":"chat.completion.chunk","created":123,"model":"gpt-5.2","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")
	orch := &fakeOrch{
		turn: &orchestrator.Turn{
			TurnID: "t1", UserID: "alice", UsedModel: "gpt-5.2",
			Reply: &providers.ChatResult{Stream: io.NopCloser(strings.NewReader(upstream))},
		},
		footer: "\n\n---\nnoted",
	}
	srv := testServer(t, orch, nil)

	resp := postChat(t, srv, "sk-good", `{"model":"mobius","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	if orch.finishedText != "Hello" {
		t.Errorf("accumulated text = %q", orch.finishedText)
	}
	if strings.Count(text, "data: [DONE]") != 1 {
		t.Errorf("DONE markers:\n%s", text)
	}
	footerIdx := strings.Index(text, `\n\n---\nnoted`)
	doneIdx := strings.Index(text, "data: [DONE]")
	if footerIdx == -1 || doneIdx < footerIdx {
		t.Errorf("footer delta missing or after DONE:\n%s", text)
	}
	if !strings.Contains(text, `"id":"chatcmpl-up"`) {
		t.Errorf("upstream envelope not reused:\n%s", text)
	}
}

func TestChatProviderExhaustedMapsTo502(t *testing.T) {
	orch := &fakeOrch{err: &providers.ExhaustedError{}}
	srv := testServer(t, orch, nil)
	resp := postChat(t, srv, "sk-good", chatBody)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	srv := testServer(t, &fakeOrch{turn: nonStreamTurn("hi")}, nil)
	resp := postChat(t, srv, "sk-good", `{"model":"mobius","messages":[]}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestModelsListsPublicModelOnly(t *testing.T) {
	srv := testServer(t, &fakeOrch{}, nil)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/models", nil)
	req.Header.Set("Authorization", "Bearer sk-good")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var list oai.ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Data) != 1 || list.Data[0].ID != "mobius" {
		t.Errorf("models = %+v", list.Data)
	}
}

func TestEmbeddingsProxiesVerbatim(t *testing.T) {
	srv := testServer(t, &fakeOrch{}, nil)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/embeddings",
		strings.NewReader(`{"model":"mobius","input":"hello world"}`))
	req.Header.Set("Authorization", "Bearer sk-good")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"embedding":[0.1]`) {
		t.Errorf("body = %s", body)
	}
}

func TestEmbeddingsRejectEmptyInput(t *testing.T) {
	srv := testServer(t, &fakeOrch{}, nil)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/embeddings", strings.NewReader(`{"input":[]}`))
	req.Header.Set("Authorization", "Bearer sk-good")
	resp, _ := http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestRateLimitReturns429(t *testing.T) {
	srv := testServer(t, &fakeOrch{turn: nonStreamTurn("hi")}, func(cfg *config.Config) {
		cfg.Server.RateLimitRPS = 0.001
		cfg.Server.RateLimitBurst = 1
	})

	resp := postChat(t, srv, "sk-good", chatBody)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d", resp.StatusCode)
	}
	resp = postChat(t, srv, "sk-good", chatBody)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", resp.StatusCode)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	srv := testServer(t, &fakeOrch{}, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz = %d, want 200 with state disabled", resp.StatusCode)
	}
}

func TestDiagnosticsPayload(t *testing.T) {
	srv := testServer(t, &fakeOrch{}, nil)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/diagnostics", nil)
	req.Header.Set("Authorization", "Bearer sk-good")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload["public_model_id"] != "mobius" || payload["sessions"] != float64(7) {
		t.Errorf("payload = %v", payload)
	}
}
