// Package gemini provides a scoring.Provider backed by the Google Gen AI SDK.
package gemini

import (
	"context"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/cast"
	"google.golang.org/genai"

	"github.com/warriorguo/riskflow/scoring"
)

var (
	_ scoring.Provider = &Provider{}
	_ scoring.Model    = &model{}
)

type Provider struct {
	client *genai.Client
}

// NewProvider creates a Gemini API client for the given key.
func NewProvider(ctx context.Context, apiKey string) (*Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.NotValidf("empty gemini api key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "failed to create gemini client")
	}
	return &Provider{client: client}, nil
}

func (p *Provider) Model(ctx context.Context, cfg scoring.ModelConfig) (scoring.Model, error) {
	if cfg.Name == "" {
		return nil, errors.NotValidf("empty model name")
	}
	return &model{client: p.client, cfg: cfg}, nil
}

type model struct {
	client *genai.Client
	cfg    scoring.ModelConfig
}

func (m *model) GenerateContent(ctx context.Context, prompt string) (string, error) {
	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(m.cfg.Temperature),
		TopP:            genai.Ptr(m.cfg.TopP),
		MaxOutputTokens: m.cfg.MaxOutputTokens,
	}
	resp, err := m.client.Models.GenerateContent(ctx, m.cfg.Name, genai.Text(prompt), genCfg)
	if err != nil {
		return "", convertError(err)
	}
	return resp.Text(), nil
}

const retryInfoType = "type.googleapis.com/google.rpc.RetryInfo"

// convertError maps SDK API errors onto scoring.StatusError so callers can
// recognise rate limiting without importing the SDK.
func convertError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return statusError(&apiErr)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return statusError(apiErrPtr)
	}
	return errors.Trace(err)
}

func statusError(apiErr *genai.APIError) *scoring.StatusError {
	return &scoring.StatusError{
		Code:       apiErr.Code,
		Status:     apiErr.Status,
		Message:    apiErr.Message,
		RetryAfter: retryDelay(apiErr.Details),
	}
}

// retryDelay reads google.rpc.RetryInfo's retryDelay, e.g. "10.5s".
func retryDelay(details []map[string]any) time.Duration {
	for _, detail := range details {
		if cast.ToString(detail["@type"]) != retryInfoType {
			continue
		}
		delay, err := cast.ToDurationE(detail["retryDelay"])
		if err == nil && delay > 0 {
			return delay
		}
	}
	return 0
}
