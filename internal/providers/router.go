// Package providers routes OpenAI-compatible chat and embedding calls
// to the configured upstreams with an ordered fallback chain.
//
// The router is a passthrough: request bodies are assembled from the
// caller's raw messages and options, and responses come back verbatim.
// It never reshapes what the upstream said; it only decides which
// credentials and model name go on the wire.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/mobius/internal/telemetry"
)

const (
	chatPath      = "/chat/completions"
	embeddingPath = "/embeddings"
)

// Router tries candidates in order until one succeeds.
type Router struct {
	creds     CredentialSet
	fallbacks []string
	client    *http.Client
	retry     RetryConfig
	log       *slog.Logger
}

// NewRouter builds a router over the given credentials and fallback
// models. The fallback list applies after the primary model of each
// call, with duplicates removed preserving first occurrence.
func NewRouter(creds CredentialSet, fallbacks []string) *Router {
	return &Router{
		creds:     creds,
		fallbacks: fallbacks,
		client:    &http.Client{},
		retry:     DefaultRetryConfig(),
		log:       slog.With("component", "providers"),
	}
}

// WithHTTPClient replaces the underlying HTTP client. The default has
// no global timeout so streamed responses can outlive any fixed bound;
// callers control non-streaming deadlines through ctx.
func (r *Router) WithHTTPClient(c *http.Client) *Router {
	r.client = c
	return r
}

// WithRetryConfig overrides per-candidate retry behavior.
func (r *Router) WithRetryConfig(cfg RetryConfig) *Router {
	r.retry = cfg
	return r
}

// Fallbacks returns the configured fallback chain.
func (r *Router) Fallbacks() []string {
	out := make([]string, len(r.fallbacks))
	copy(out, r.fallbacks)
	return out
}

// ChatCompletion sends a chat request to the first candidate that
// accepts it. passthrough fields are copied into the request body
// before model/messages/stream are set, so callers cannot clobber
// routing decisions. Returns the candidate name that succeeded (the
// original name, never the rewritten wire name).
//
// With stream=true the call returns as soon as the upstream admits the
// request; the caller iterates ChatResult.Stream and must close it.
// Errors surfacing mid-stream do not re-enter the fallback chain.
func (r *Router) ChatCompletion(ctx context.Context, primaryModel string, messages []json.RawMessage, stream bool, passthrough map[string]any, includeFallbacks bool) (string, *ChatResult, error) {
	ctx, span := telemetry.Tracer("providers").Start(ctx, "provider.chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("model.primary", primaryModel),
		attribute.Bool("stream", stream),
	)

	used, result, err := r.chatCompletion(ctx, primaryModel, messages, stream, passthrough, includeFallbacks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "all candidates failed")
		return "", nil, err
	}
	span.SetAttributes(attribute.String("model.used", used))
	return used, result, nil
}

func (r *Router) chatCompletion(ctx context.Context, primaryModel string, messages []json.RawMessage, stream bool, passthrough map[string]any, includeFallbacks bool) (string, *ChatResult, error) {
	candidates := r.candidates(primaryModel, includeFallbacks)
	if len(candidates) == 0 {
		return "", nil, ErrNoCandidates
	}

	var lastErr error
	for _, candidate := range candidates {
		creds := r.creds.For(candidate)
		body := buildChatBody(passthrough, r.creds.CallModel(candidate), messages, stream)
		r.log.Debug("trying model", "model", candidate, "provider", creds.Name, "stream", stream)

		result, err := r.dispatch(ctx, creds, body, stream)
		if err != nil {
			lastErr = err
			r.log.Warn("model call failed", "model", candidate, "provider", creds.Name, "error", err)
			continue
		}

		if candidate != primaryModel {
			r.log.Warn("primary model failed, fallback model used", "primary", primaryModel, "model", candidate)
		}
		return candidate, result, nil
	}

	r.log.Error("all model candidates failed", "primary", primaryModel, "candidates", len(candidates))
	return "", nil, &ExhaustedError{Model: primaryModel, Candidates: len(candidates), Last: lastErr}
}

// Embedding routes an embedding request through the same candidate
// chain. The response must carry a non-empty vector at
// data[0].embedding; anything else counts as a candidate failure.
func (r *Router) Embedding(ctx context.Context, primaryModel, inputText string, includeFallbacks bool) (string, *EmbeddingResult, error) {
	if strings.TrimSpace(inputText) == "" {
		return "", nil, ErrInvalidInput
	}

	candidates := r.candidates(primaryModel, includeFallbacks)
	if len(candidates) == 0 {
		return "", nil, ErrNoCandidates
	}

	var lastErr error
	for _, candidate := range candidates {
		creds := r.creds.For(candidate)
		body := map[string]any{
			"model": r.creds.CallModel(candidate),
			"input": inputText,
		}

		result, err := RetryDo(ctx, r.retry, func() (*EmbeddingResult, error) {
			raw, err := r.postJSON(ctx, creds, embeddingPath, body)
			if err != nil {
				return nil, err
			}
			return parseEmbedding(creds.Name, raw)
		})
		if err != nil {
			lastErr = err
			r.log.Warn("embedding call failed", "model", candidate, "provider", creds.Name, "error", err)
			continue
		}

		if candidate != primaryModel {
			r.log.Warn("primary embedding model failed, fallback used", "primary", primaryModel, "model", candidate)
		}
		return candidate, result, nil
	}

	return "", nil, &ExhaustedError{Model: primaryModel, Candidates: len(candidates), Last: lastErr}
}

// candidates builds the ordered, deduplicated model list for one call.
// Empty names are dropped.
func (r *Router) candidates(primary string, includeFallbacks bool) []string {
	list := make([]string, 0, 1+len(r.fallbacks))
	list = append(list, primary)
	if includeFallbacks {
		list = append(list, r.fallbacks...)
	}

	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, m := range list {
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// dispatch performs one candidate attempt. Non-streaming retries the
// whole request; streaming retries only the admission phase.
func (r *Router) dispatch(ctx context.Context, creds Credentials, body map[string]any, stream bool) (*ChatResult, error) {
	if stream {
		respBody, err := RetryDo(ctx, r.retry, func() (io.ReadCloser, error) {
			return r.post(ctx, creds, chatPath, body)
		})
		if err != nil {
			return nil, err
		}
		return &ChatResult{Stream: respBody}, nil
	}

	raw, err := RetryDo(ctx, r.retry, func() (json.RawMessage, error) {
		return r.postJSON(ctx, creds, chatPath, body)
	})
	if err != nil {
		return nil, err
	}
	return &ChatResult{Raw: raw}, nil
}

// post sends one JSON request and returns the response body stream.
// Non-2xx responses are drained into an *HTTPError.
func (r *Router) post(ctx context.Context, creds Credentials, path string, body map[string]any) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", creds.Name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", creds.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", creds.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", creds.Name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("%s: %s", creds.Name, strings.TrimSpace(string(respBody))),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return resp.Body, nil
}

func (r *Router) postJSON(ctx context.Context, creds Credentials, path string, body map[string]any) (json.RawMessage, error) {
	respBody, err := r.post(ctx, creds, path, body)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	data, err := io.ReadAll(respBody)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", creds.Name, err)
	}
	return json.RawMessage(data), nil
}

// buildChatBody assembles the outbound request. Caller passthrough
// goes first; model, messages, and stream always win.
func buildChatBody(passthrough map[string]any, model string, messages []json.RawMessage, stream bool) map[string]any {
	body := make(map[string]any, len(passthrough)+3)
	for k, v := range passthrough {
		if v == nil {
			continue
		}
		body[k] = v
	}
	body["model"] = model
	body["messages"] = messages
	body["stream"] = stream
	return body
}

func parseEmbedding(provider string, raw json.RawMessage) (*EmbeddingResult, error) {
	var env embeddingEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%s: decode embedding response: %w", provider, err)
	}
	if len(env.Data) == 0 || len(env.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%s: %w", provider, ErrMalformedEmbedding)
	}
	return &EmbeddingResult{Raw: raw, Vector: env.Data[0].Embedding}, nil
}

// ProbeTimeout bounds connectivity checks done outside request flow.
const ProbeTimeout = 15 * time.Second

// Verify sends a minimal one-token request to confirm the credentials
// for a model are accepted. Used by onboarding and doctor.
func (r *Router) Verify(ctx context.Context, model string) error {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	msg, _ := json.Marshal(map[string]string{"role": "user", "content": "hi"})
	_, _, err := r.ChatCompletion(ctx, model, []json.RawMessage{msg}, false, map[string]any{"max_tokens": 1}, false)
	return err
}
