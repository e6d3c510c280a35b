package refine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/invopop/jsonschema"
	goopenai "github.com/openai/openai-go"

	"github.com/engramhq/engram/chunking"
	"github.com/engramhq/engram/errors"
	"github.com/engramhq/engram/memory"
)

const bridgeSystemPrompt = "You reconstruct missing steps between notes in a memory index. Respond with JSON only."

const bridgePromptTemplate = `Two notes from the same source are numbered with a gap between them: {{.Missing}} note{{if gt .Missing 1}}s{{end}} in the sequence {{if gt .Missing 1}}are{{else}}is{{end}} missing.

Write the missing note{{if gt .Missing 1}}s{{end}}, in order. Each note states one step or fact that plausibly connects the two notes. Stay grounded in what the notes say; when the connection is uncertain, say so in the note and lower its confidence. Confidence is your own estimate in (0, 1].

Respond with JSON matching this schema:
{{.Schema}}

Note before the gap:
{{.Before}}

Note after the gap:
{{.After}}`

type bridgePromptData struct {
	Missing int
	Schema  string
	Before  string
	After   string
}

type bridgeResponse struct {
	Proposals []struct {
		Content    string  `json:"content" jsonschema:"required,description=The missing note, one step or fact"`
		Confidence float64 `json:"confidence" jsonschema:"required,description=Estimated confidence in (0 and 1]"`
	} `json:"proposals" jsonschema:"required,description=The missing notes in sequence order"`
}

var (
	bridgeTmpl   *template.Template
	bridgeSchema string
)

func init() {
	var err error
	bridgeTmpl, err = template.New("bridgePrompt").Parse(bridgePromptTemplate)
	if err != nil {
		panic(fmt.Sprintf("failed to parse bridge template: %v", err))
	}

	reflector := jsonschema.Reflector{DoNotReference: true}
	schemaJson, err := json.Marshal(reflector.Reflect(&bridgeResponse{}))
	if err != nil {
		panic(fmt.Sprintf("failed to marshal bridge schema: %v", err))
	}
	bridgeSchema = string(schemaJson)
}

func buildBridgePrompt(before, after *memory.Unit) (string, error) {
	var promptBuffer bytes.Buffer
	if err := bridgeTmpl.Execute(&promptBuffer, bridgePromptData{
		Missing: missingBetween(before.Code, after.Code),
		Schema:  bridgeSchema,
		Before:  before.Content,
		After:   after.Content,
	}); err != nil {
		return "", err
	}
	return strings.TrimSpace(promptBuffer.String()), nil
}

// missingBetween counts the skipped sibling positions between two codes.
// Codes arrive pre-screened by the gap scan, so parse trouble just means a
// single-note prompt.
func missingBetween(beforeCode, afterCode string) int {
	before, err := chunking.ParseCode(beforeCode)
	if err != nil {
		return 1
	}
	after, err := chunking.ParseCode(afterCode)
	if err != nil {
		return 1
	}
	missing := after[len(after)-1] - before[len(before)-1] - 1
	if missing < 1 {
		return 1
	}
	return missing
}

func parseBridgeResponse(reply string) ([]memory.GapProposal, error) {
	body := extractJSON(reply)
	if body == "" {
		return nil, errors.Errorf("no JSON object in model reply")
	}
	var parsed bridgeResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, errors.Wrapf(err, "failed to decode bridge response")
	}

	proposals := make([]memory.GapProposal, 0, len(parsed.Proposals))
	for _, p := range parsed.Proposals {
		proposals = append(proposals, memory.GapProposal{
			Content:    strings.TrimSpace(p.Content),
			Confidence: p.Confidence,
		})
	}
	return proposals, nil
}

func (r *OpenAIRefiner) Fill(ctx context.Context, before, after *memory.Unit) ([]memory.GapProposal, error) {
	prompt, err := buildBridgePrompt(before, after)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to render bridge prompt")
	}

	resp, err := r.client.Chat.Completions.New(ctx, goopenai.ChatCompletionNewParams{
		Model: r.model,
		Messages: []goopenai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &goopenai.ChatCompletionSystemMessageParam{
					Content: goopenai.ChatCompletionSystemMessageParamContentUnion{
						OfString: goopenai.Opt(bridgeSystemPrompt),
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
		return nil, errors.Wrapf(err, "openai call failed")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.Errorf("empty completion")
	}

	return parseBridgeResponse(resp.Choices[0].Message.Content)
}

func (r *AnthropicRefiner) Fill(ctx context.Context, before, after *memory.Unit) ([]memory.GapProposal, error) {
	prompt, err := buildBridgePrompt(before, after)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to render bridge prompt")
	}

	message, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: refineMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: bridgeSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(prompt)},
			},
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "anthropic call failed")
	}

	var reply strings.Builder
	for _, content := range message.Content {
		if block, ok := content.AsAny().(anthropic.TextBlock); ok {
			reply.WriteString(block.Text)
		}
	}

	return parseBridgeResponse(reply.String())
}

var (
	_ memory.GapFiller = (*OpenAIRefiner)(nil)
	_ memory.GapFiller = (*AnthropicRefiner)(nil)
)
