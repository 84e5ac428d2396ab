package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// DefaultAPIModel is used when an openai backend names no model.
const DefaultAPIModel = oai.EmbeddingModelTextEmbedding3Small

// APIEncoder embeds text through an OpenAI-compatible embeddings API.
type APIEncoder struct {
	client oai.Client
	model  string
	dims   int
}

// NewAPIEncoder creates an APIEncoder. An empty endpoint targets the public
// OpenAI API; an empty apiKey falls back to OPENAI_API_KEY.
func NewAPIEncoder(endpoint, apiKey, model string, dims int, timeout time.Duration) *APIEncoder {
	if model == "" {
		model = DefaultAPIModel
	}

	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	if timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: timeout}))
	}

	return &APIEncoder{client: oai.NewClient(opts...), model: model, dims: dims}
}

// EncodeText embeds text. The API rejects empty input, so the empty string
// is encoded as a single space.
func (p *APIEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		text = " "
	}

	params := oai.EmbeddingNewParams{
		Model: p.model,
		Input: oai.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(text),
		},
	}
	if p.dims > 0 {
		params.Dimensions = param.NewOpt(int64(p.dims))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai: empty response")
	}

	out := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		out[i] = float32(v)
	}
	return out, nil
}
