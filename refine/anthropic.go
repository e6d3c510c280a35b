package refine

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/engramhq/engram/chunking"
	"github.com/engramhq/engram/errors"
)

const (
	refineSystemPrompt  = "You segment passages for a memory index. Respond with JSON only."
	refineMaxTokens     = 1024
	refineClientTimeout = 60 * time.Second
)

// AnthropicRefiner proposes span boundaries with a Claude model.
type AnthropicRefiner struct {
	client  *anthropic.Client
	model   string
	maxSpan int
}

func NewAnthropicRefiner(apiKey, model string, maxSpan int) *AnthropicRefiner {
	if maxSpan <= 0 {
		maxSpan = 1000
	}
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(refineClientTimeout),
	)
	return &AnthropicRefiner{
		client:  &client,
		model:   model,
		maxSpan: maxSpan,
	}
}

func (r *AnthropicRefiner) Refine(ctx context.Context, text string, hints []string) ([]string, error) {
	prompt, err := buildSplitPrompt(text, hints, r.maxSpan)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrRefinementUnavailable, "failed to render prompt: %v", err)
	}

	message, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: refineMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: refineSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(prompt)},
			},
		},
	})
	if err != nil {
		return nil, errors.Wrapf(errors.ErrRefinementUnavailable, "anthropic call failed: %v", err)
	}

	var reply strings.Builder
	for _, content := range message.Content {
		if block, ok := content.AsAny().(anthropic.TextBlock); ok {
			reply.WriteString(block.Text)
		}
	}

	anchors, err := parseSplitResponse(reply.String())
	if err != nil {
		return nil, errors.Wrapf(errors.ErrRefinementUnavailable, "unusable reply: %v", err)
	}
	spans, err := splitAtAnchors(text, anchors)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrRefinementUnavailable, "unusable anchors: %v", err)
	}
	return spans, nil
}

var _ chunking.Refiner = (*AnthropicRefiner)(nil)
