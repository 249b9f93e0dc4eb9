// Package anthropic sends single-turn prompts to Claude, either through the
// Anthropic API or through Amazon Bedrock.
package anthropic

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rotisserie/eris"
)

// Client completes prompts.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest is a system prompt plus one user turn. A non-empty CacheTTL
// ("5m" or "1h") marks the system prompt as a cache breakpoint; "default"
// uses the API's own TTL.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      string
	CacheTTL    string
	Prompt      string
	Temperature *float64
}

// MessageResponse is the text Claude returned and what it cost.
type MessageResponse struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      TokenUsage
}

// CacheDefault caches the system prompt with the API's default TTL.
const CacheDefault = "default"

type messages struct {
	api sdk.Client
}

// NewClient returns a Client for the Anthropic API.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	return &messages{api: sdk.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)}
}

// NewBedrockClient returns a Client that signs requests for Bedrock with cfg.
func NewBedrockClient(cfg aws.Config, opts ...option.RequestOption) Client {
	return &messages{api: sdk.NewClient(append([]option.RequestOption{bedrock.WithConfig(cfg)}, opts...)...)}
}

func (m *messages) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	msg, err := m.api.Messages.New(ctx, req.params())
	if err != nil {
		return nil, eris.Wrapf(err, "anthropic: create message (model %s)", req.Model)
	}
	return newResponse(msg), nil
}

// StatusCode returns the HTTP status of an API error, or 0 when err did not
// come from an API response.
func StatusCode(err error) int {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func (r MessageRequest) params() sdk.MessageNewParams {
	p := sdk.MessageNewParams{
		Model:     sdk.Model(r.Model),
		MaxTokens: r.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(r.Prompt))},
	}
	if r.System != "" {
		block := sdk.TextBlockParam{Text: r.System}
		if r.CacheTTL != "" {
			block.CacheControl = sdk.NewCacheControlEphemeralParam()
			if r.CacheTTL != CacheDefault {
				block.CacheControl.TTL = sdk.CacheControlEphemeralTTL(r.CacheTTL)
			}
		}
		p.System = []sdk.TextBlockParam{block}
	}
	if r.Temperature != nil {
		p.Temperature = sdk.Float(*r.Temperature)
	}
	return p
}

func newResponse(msg *sdk.Message) *MessageResponse {
	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	u := msg.Usage
	return &MessageResponse{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Text:       text.String(),
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:              u.InputTokens,
			OutputTokens:             u.OutputTokens,
			CacheCreationInputTokens: u.CacheCreationInputTokens,
			CacheReadInputTokens:     u.CacheReadInputTokens,
		},
	}
}
