package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/Extracta/internal/core"
)

const DefaultModel = "gemini-1.5-flash"

// ErrMissingAPIKey is returned when the document model is built without credentials.
var ErrMissingAPIKey = errors.New("gemini: api key is not configured")

// GeminiConfig selects the hosted model.
type GeminiConfig struct {
	APIKey   string
	Endpoint string
	Model    string
}

// GeminiDocumentModel sends a document to Gemini and returns the raw JSON
// text of its answer. The client is safe for concurrent use.
type GeminiDocumentModel struct {
	client    *genai.Client
	modelName string
}

func NewGeminiDocumentModel(ctx context.Context, cfg GeminiConfig) (*GeminiDocumentModel, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	cl, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &GeminiDocumentModel{client: cl, modelName: cfg.Model}, nil
}

func (g *GeminiDocumentModel) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// ExtractElements asks the model for a JSON answer about data.
func (g *GeminiDocumentModel) ExtractElements(ctx context.Context, mimeType string, data []byte, prompt string) (string, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(0)
	m.ResponseMIMEType = "application/json"
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(SystemPrompt)},
	}

	resp, err := m.GenerateContent(ctx, genai.Blob{MIMEType: mimeType, Data: data}, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return StripFences(b.String()), nil
}

// StripFences removes a Markdown code fence wrapped around a JSON answer.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

var _ core.DocumentModel = (*GeminiDocumentModel)(nil)
