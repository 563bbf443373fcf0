package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"folio/internal/models"
	"folio/internal/store"
	"folio/internal/tasks"
	"folio/internal/worker"
)

// newOpenAIClient is shared by the OpenAI-backed executors. A missing key
// yields a nil client; the executor stays registered but errors per unit,
// matching how disabled providers behave elsewhere.
func newOpenAIClient(apiKey string) *openai.Client {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	return openai.NewClient(apiKey)
}

func chatComplete(ctx context.Context, client *openai.Client, model, system, user string) (string, error) {
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI API returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// --- Slide formatting ---

// SlideFormatExecutor reformats existing slides into clean HTML.
// One unit = one slide.
type SlideFormatExecutor struct {
	client *openai.Client
	model  string
	blobs  store.BlobStore
}

var _ worker.Capability = (*SlideFormatExecutor)(nil)

func NewSlideFormatExecutor(apiKey, model string, blobs store.BlobStore) *SlideFormatExecutor {
	client := newOpenAIClient(apiKey)
	if client == nil {
		log.Warn("OpenAI API key not provided. Slide format executor will be disabled.")
	}
	return &SlideFormatExecutor{client: client, model: model, blobs: blobs}
}

func (e *SlideFormatExecutor) Name() string     { return models.CapabilitySlideFormat }
func (e *SlideFormatExecutor) TaskType() string { return tasks.TypeSlideFormatJob }
func (e *SlideFormatExecutor) Enabled() bool    { return e.client != nil }

func (e *SlideFormatExecutor) Plan(_ context.Context, payload []byte) (*worker.Plan, error) {
	var p tasks.SlideFormatPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode slide format payload: %w", err)
	}
	units := make([]worker.Unit, len(p.Slides))
	for i, s := range p.Slides {
		units[i] = worker.Unit{Index: s.Index, Label: fmt.Sprintf("Slide %d", s.Index+1), Ref: s.Ref}
	}
	return &worker.Plan{Units: units, Data: &p}, nil
}

type slideOutput struct {
	Index int    `json:"index"`
	HTML  string `json:"html"`
}

func (e *SlideFormatExecutor) RunUnit(ctx context.Context, plan *worker.Plan, unit worker.Unit) (json.RawMessage, error) {
	if e.client == nil {
		return nil, fmt.Errorf("slide format executor is not initialized (missing API key)")
	}
	p := plan.Data.(*tasks.SlideFormatPayload)

	raw, err := e.blobs.Fetch(ctx, unit.Ref)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", unit.Label, err)
	}
	system := "You format presentation slides as clean, semantic HTML. Output only the HTML for the slide body."
	user := fmt.Sprintf("Reformat this slide content:\n\n%s", string(raw))
	if p.Style != "" {
		user = fmt.Sprintf("Style: %s.\n%s", p.Style, user)
	}
	html, err := chatComplete(ctx, e.client, e.model, system, user)
	if err != nil {
		return nil, fmt.Errorf("format %s: %w", unit.Label, err)
	}
	return json.Marshal(slideOutput{Index: unit.Index, HTML: html})
}

func (e *SlideFormatExecutor) Assemble(plan *worker.Plan, results []worker.UnitResult) (json.RawMessage, error) {
	p := plan.Data.(*tasks.SlideFormatPayload)
	out := struct {
		DeckID string            `json:"deck_id"`
		Slides []json.RawMessage `json:"slides"`
	}{DeckID: p.DeckID}
	for _, r := range results {
		out.Slides = append(out.Slides, r.Output)
	}
	return json.Marshal(out)
}

// --- Slide generation ---

// SlideGenerateExecutor creates a new deck from a topic. Units are
// synthetic: one per slide to be generated.
type SlideGenerateExecutor struct {
	client *openai.Client
	model  string
}

var _ worker.Capability = (*SlideGenerateExecutor)(nil)

func NewSlideGenerateExecutor(apiKey, model string) *SlideGenerateExecutor {
	client := newOpenAIClient(apiKey)
	if client == nil {
		log.Warn("OpenAI API key not provided. Slide generate executor will be disabled.")
	}
	return &SlideGenerateExecutor{client: client, model: model}
}

func (e *SlideGenerateExecutor) Name() string     { return models.CapabilitySlideGenerate }
func (e *SlideGenerateExecutor) TaskType() string { return tasks.TypeSlideGenerateJob }
func (e *SlideGenerateExecutor) Enabled() bool    { return e.client != nil }

func (e *SlideGenerateExecutor) Plan(_ context.Context, payload []byte) (*worker.Plan, error) {
	var p tasks.SlideGeneratePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode slide generate payload: %w", err)
	}
	units := make([]worker.Unit, p.SlideCount)
	for i := 0; i < p.SlideCount; i++ {
		units[i] = worker.Unit{Index: i, Label: fmt.Sprintf("Slide %d of %d", i+1, p.SlideCount)}
	}
	return &worker.Plan{Units: units, Data: &p}, nil
}

func (e *SlideGenerateExecutor) RunUnit(ctx context.Context, plan *worker.Plan, unit worker.Unit) (json.RawMessage, error) {
	if e.client == nil {
		return nil, fmt.Errorf("slide generate executor is not initialized (missing API key)")
	}
	p := plan.Data.(*tasks.SlideGeneratePayload)

	system := "You write one presentation slide at a time as clean, semantic HTML. Output only the HTML for the slide body."
	user := fmt.Sprintf("Topic: %s. Write slide %d of a %d-slide deck.", p.Topic, unit.Index+1, p.SlideCount)
	if p.Language != "" {
		user += fmt.Sprintf(" Write it in %s.", p.Language)
	}
	html, err := chatComplete(ctx, e.client, e.model, system, user)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", unit.Label, err)
	}
	return json.Marshal(slideOutput{Index: unit.Index, HTML: html})
}

func (e *SlideGenerateExecutor) Assemble(plan *worker.Plan, results []worker.UnitResult) (json.RawMessage, error) {
	p := plan.Data.(*tasks.SlideGeneratePayload)
	out := struct {
		Topic  string            `json:"topic"`
		Slides []json.RawMessage `json:"slides"`
	}{Topic: p.Topic}
	for _, r := range results {
		out.Slides = append(out.Slides, r.Output)
	}
	return json.Marshal(out)
}
