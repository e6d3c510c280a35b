// Package refine backs the assisted segmentation rung of the chunking
// ladder with generation models. Models never rewrite content: they propose
// anchors (verbatim openings of each new span) and slicing happens locally,
// so refined spans always concatenate back to the source text.
package refine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/invopop/jsonschema"

	"github.com/engramhq/engram/errors"
)

const splitPromptTemplate = `Split the passage into coherent spans.

Rules:
- A span covers one topic, step, or scene and stays under {{.MaxSpan}} characters.
- Start a new span where the passage shifts topic, speaker, or section.
- Report each split as an anchor: the first few words of the new span, copied verbatim from the passage, punctuation included.
- List anchors in passage order. The first span starts at the beginning and needs no anchor.
{{- if .Drafts}}

An earlier mechanical pass started spans at these openings but was rejected for sizing. Prefer boundaries near them when they make sense:
{{- range .Drafts}}
- {{.}}
{{- end}}
{{- end}}

Respond with JSON matching this schema:
{{.Schema}}

Passage:
{{.Text}}`

type splitPromptData struct {
	MaxSpan int
	Drafts  []string
	Schema  string
	Text    string
}

type splitResponse struct {
	Anchors []string `json:"anchors" jsonschema:"required,description=Verbatim opening words of each span after the first, in passage order"`
}

var (
	splitTmpl   *template.Template
	splitSchema string
)

func init() {
	var err error
	splitTmpl, err = template.New("splitPrompt").Parse(splitPromptTemplate)
	if err != nil {
		panic(fmt.Sprintf("failed to parse split template: %v", err))
	}

	reflector := jsonschema.Reflector{DoNotReference: true}
	schemaJson, err := json.Marshal(reflector.Reflect(&splitResponse{}))
	if err != nil {
		panic(fmt.Sprintf("failed to marshal split schema: %v", err))
	}
	splitSchema = string(schemaJson)
}

// buildSplitPrompt renders the instruction for one passage. Hints are the
// rejected mechanical spans; only their openings go into the prompt.
func buildSplitPrompt(text string, hints []string, maxSpan int) (string, error) {
	drafts := make([]string, 0, len(hints))
	for _, hint := range hints {
		if head := spanHead(hint); head != "" {
			drafts = append(drafts, head)
		}
	}

	var promptBuffer bytes.Buffer
	if err := splitTmpl.Execute(&promptBuffer, splitPromptData{
		MaxSpan: maxSpan,
		Drafts:  drafts,
		Schema:  splitSchema,
		Text:    text,
	}); err != nil {
		return "", err
	}
	return strings.TrimSpace(promptBuffer.String()), nil
}

// spanHead keeps the opening words of a span, breaking at a space so the
// head stays quotable.
func spanHead(span string) string {
	const maxRunes = 48

	span = strings.TrimSpace(span)
	if utf8.RuneCountInString(span) <= maxRunes {
		return span
	}
	head := string([]rune(span)[:maxRunes])
	if idx := strings.LastIndexByte(head, ' '); idx > 0 {
		head = head[:idx]
	}
	return head
}

// parseSplitResponse pulls anchors out of a model reply, tolerating prose or
// markdown fences around the JSON body.
func parseSplitResponse(reply string) ([]string, error) {
	body := extractJSON(reply)
	if body == "" {
		return nil, errors.Errorf("no JSON object in model reply")
	}
	var parsed splitResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, errors.Wrapf(err, "failed to decode split response")
	}
	return parsed.Anchors, nil
}

func extractJSON(reply string) string {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end < start {
		return ""
	}
	return reply[start : end+1]
}

// splitAtAnchors slices text at each anchor occurrence. Anchors that cannot
// be located in order are skipped; when none can, the refinement is
// unusable. Cut positions only move forward, so spans stay in source order.
func splitAtAnchors(text string, anchors []string) ([]string, error) {
	var cuts []int
	searchFrom := 0
	for _, anchor := range anchors {
		anchor = strings.TrimSpace(anchor)
		if anchor == "" {
			continue
		}
		idx := strings.Index(text[searchFrom:], anchor)
		if idx < 0 {
			continue
		}
		cut := searchFrom + idx
		searchFrom = cut + len(anchor)
		if cut == 0 {
			continue
		}
		cuts = append(cuts, cut)
	}
	if len(cuts) == 0 {
		return nil, errors.Errorf("no anchor found in passage")
	}

	spans := make([]string, 0, len(cuts)+1)
	prev := 0
	for _, cut := range cuts {
		spans = append(spans, text[prev:cut])
		prev = cut
	}
	return append(spans, text[prev:]), nil
}
