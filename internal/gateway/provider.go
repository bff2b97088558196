// Package gateway is the single egress point for model calls. It
// enforces per-instance quotas, caches answers, resolves provider
// credentials through the vault, and records every attempt in the
// usage trail.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"clusterplane/internal/store"

	"github.com/google/uuid"
)

// Message is one turn of a chat prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a model call as seen by the gateway.
type Request struct {
	InstanceID uuid.UUID
	UserID     uuid.UUID
	Model      string
	Messages   []Message
	MaxTokens  int
}

// Response is the gateway's answer, from a provider or the cache.
type Response struct {
	Content   string   `json:"content"`
	Citations []string `json:"citations,omitempty"`
	Provider  string   `json:"provider"`
	TokensIn  int      `json:"tokens_in"`
	TokensOut int      `json:"tokens_out"`
	Cost      float64  `json:"cost"`
	Cached    bool     `json:"cached"`
}

// Provider executes one model call against an upstream API.
type Provider interface {
	Name() string
	Complete(ctx context.Context, apiKey string, req *Request) (*Response, error)
}

// HTTPProvider speaks the chat/completions wire format shared by the
// OpenAI-compatible upstreams.
type HTTPProvider struct {
	name         string
	baseURL      string
	defaultModel string
	costPerToken float64
	client       *http.Client
}

// NewHTTPProvider creates a provider for a chat/completions endpoint.
func NewHTTPProvider(name, baseURL, defaultModel string, costPerToken float64) *HTTPProvider {
	if len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &HTTPProvider{
		name:         name,
		baseURL:      baseURL,
		defaultModel: defaultModel,
		costPerToken: costPerToken,
		client:       &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *HTTPProvider) Name() string { return p.name }

type chatCompletionRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
	Usage     struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete posts the prompt and maps the first choice back.
func (p *HTTPProvider) Complete(ctx context.Context, apiKey string, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:     model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read a little of the body for diagnostics, upstreams put the
		// reason there.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s: status %d: %s", p.name, resp.StatusCode, snippet)
	}

	var cr chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("%s: bad response: %w", p.name, err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty choices", p.name)
	}

	total := cr.Usage.PromptTokens + cr.Usage.CompletionTokens
	return &Response{
		Content:   cr.Choices[0].Message.Content,
		Citations: cr.Citations,
		Provider:  p.name,
		TokensIn:  cr.Usage.PromptTokens,
		TokensOut: cr.Usage.CompletionTokens,
		Cost:      float64(total) * p.costPerToken,
	}, nil
}

// KeySource resolves the provider API key for an instance.
type KeySource interface {
	APIKey(ctx context.Context, inst *store.ClusterInstance) (string, error)
}

// CredentialRevealer is the slice of the vault the gateway needs.
type CredentialRevealer interface {
	Reveal(ctx context.Context, ref, callerUserID uuid.UUID, scope string) ([]byte, error)
}

// credentialRefParam names the instance parameter that points at the
// vault credential holding the provider key.
const credentialRefParam = "llm_credential_ref"

// VaultKeySource resolves keys from the vault, scoped to "llm". The
// instance parameter carries only the opaque reference, never the key.
type VaultKeySource struct {
	vault CredentialRevealer
}

func NewVaultKeySource(v CredentialRevealer) *VaultKeySource {
	return &VaultKeySource{vault: v}
}

func (s *VaultKeySource) APIKey(ctx context.Context, inst *store.ClusterInstance) (string, error) {
	raw, ok := inst.Params[credentialRefParam]
	if !ok {
		return "", ErrNoCredential
	}
	ref, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("gateway: bad credential ref %q: %w", raw, err)
	}

	key, err := s.vault.Reveal(ctx, ref, inst.OwnerUserID, "llm")
	if err != nil {
		return "", err
	}
	return string(key), nil
}
