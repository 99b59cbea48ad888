package embeddings

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is the embedding model used when none is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// DefaultOpenAIDimension is the native dimension of DefaultOpenAIModel.
const DefaultOpenAIDimension = 1536

type openAIProvider struct {
	client    openai.Client
	model     string
	dimension int
}

var _ Provider = (*openAIProvider)(nil)

// OpenAIOption configures the OpenAI provider.
type OpenAIOption func(*openAIProvider)

// WithModel overrides the embedding model.
func WithModel(model string) OpenAIOption {
	return func(p *openAIProvider) { p.model = model }
}

// WithDimension requests reduced-dimension embeddings (supported by the
// text-embedding-3 family).
func WithDimension(dim int) OpenAIOption {
	return func(p *openAIProvider) { p.dimension = dim }
}

// NewOpenAI returns a Provider backed by the OpenAI embeddings API.
// Pass baseURL "" for the default endpoint.
func NewOpenAI(apiKey string, baseURL string, opts ...OpenAIOption) Provider {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	p := &openAIProvider{
		client:    openai.NewClient(reqOpts...),
		model:     DefaultOpenAIModel,
		dimension: DefaultOpenAIDimension,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *openAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Model:          openai.EmbeddingModel(p.model),
		Input:          openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if p.dimension > 0 && p.dimension != DefaultOpenAIDimension {
		params.Dimensions = openai.Int(int64(p.dimension))
	}
	result, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("embeddings: openai request failed: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("embeddings: openai returned no data for input")
	}
	raw := result.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (p *openAIProvider) Dimension() int {
	return p.dimension
}
