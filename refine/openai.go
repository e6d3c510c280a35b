package refine

import (
	"context"

	goopenai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/engramhq/engram/chunking"
	"github.com/engramhq/engram/errors"
)

// OpenAIRefiner proposes span boundaries with an OpenAI chat model. JSON
// mode keeps the reply parseable without fence stripping.
type OpenAIRefiner struct {
	client  *goopenai.Client
	model   string
	maxSpan int
}

func NewOpenAIRefiner(apiKey, model string, maxSpan int) *OpenAIRefiner {
	if maxSpan <= 0 {
		maxSpan = 1000
	}
	client := goopenai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIRefiner{
		client:  &client,
		model:   model,
		maxSpan: maxSpan,
	}
}

func (r *OpenAIRefiner) Refine(ctx context.Context, text string, hints []string) ([]string, error) {
	prompt, err := buildSplitPrompt(text, hints, r.maxSpan)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrRefinementUnavailable, "failed to render prompt: %v", err)
	}

	resp, err := r.client.Chat.Completions.New(ctx, goopenai.ChatCompletionNewParams{
		Model: r.model,
		Messages: []goopenai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &goopenai.ChatCompletionSystemMessageParam{
					Content: goopenai.ChatCompletionSystemMessageParamContentUnion{
						OfString: goopenai.Opt(refineSystemPrompt),
					},
				},
			},
			{
				OfUser: &goopenai.ChatCompletionUserMessageParam{
					Content: goopenai.ChatCompletionUserMessageParamContentUnion{
						OfString: goopenai.Opt(prompt),
					},
				},
			},
		},
		ResponseFormat: goopenai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &goopenai.ResponseFormatJSONObjectParam{},
		},
		MaxCompletionTokens: goopenai.Opt[int64](refineMaxTokens),
	})
	if err != nil {
		return nil, errors.Wrapf(errors.ErrRefinementUnavailable, "openai call failed: %v", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.Wrapf(errors.ErrRefinementUnavailable, "empty completion")
	}

	anchors, err := parseSplitResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrRefinementUnavailable, "unusable reply: %v", err)
	}
	spans, err := splitAtAnchors(text, anchors)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrRefinementUnavailable, "unusable anchors: %v", err)
	}
	return spans, nil
}

var _ chunking.Refiner = (*OpenAIRefiner)(nil)
