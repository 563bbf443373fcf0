package executors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"folio/internal/models"
	"folio/internal/store"
	"folio/internal/tasks"
	"folio/internal/worker"
)

// AIEditorExecutor applies a user's editing instructions to a document,
// section by section. One unit = one section.
type AIEditorExecutor struct {
	client *openai.Client
	model  string
	blobs  store.BlobStore
}

var _ worker.Capability = (*AIEditorExecutor)(nil)

func NewAIEditorExecutor(apiKey, model string, blobs store.BlobStore) *AIEditorExecutor {
	client := newOpenAIClient(apiKey)
	if client == nil {
		log.Warn("OpenAI API key not provided. AI editor executor will be disabled.")
	}
	return &AIEditorExecutor{client: client, model: model, blobs: blobs}
}

func (e *AIEditorExecutor) Name() string     { return models.CapabilityAIEditor }
func (e *AIEditorExecutor) TaskType() string { return tasks.TypeAIEditorJob }
func (e *AIEditorExecutor) Enabled() bool    { return e.client != nil }

func (e *AIEditorExecutor) Plan(_ context.Context, payload []byte) (*worker.Plan, error) {
	var p tasks.AIEditorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode editor payload: %w", err)
	}
	units := make([]worker.Unit, len(p.Sections))
	for i, sec := range p.Sections {
		units[i] = worker.Unit{Index: i, Label: sec.Label, Ref: sec.Ref}
	}
	return &worker.Plan{Units: units, Data: &p}, nil
}

type sectionOutput struct {
	Label string `json:"label"`
	Ref   string `json:"ref"`
}

func (e *AIEditorExecutor) RunUnit(ctx context.Context, plan *worker.Plan, unit worker.Unit) (json.RawMessage, error) {
	if e.client == nil {
		return nil, fmt.Errorf("AI editor executor is not initialized (missing API key)")
	}
	p := plan.Data.(*tasks.AIEditorPayload)

	source, err := e.blobs.Fetch(ctx, unit.Ref)
	if err != nil {
		return nil, fmt.Errorf("fetch section %q: %w", unit.Label, err)
	}
	system := "You are a careful copy editor. Apply the user's instructions to the text. Output only the edited text."
	user := fmt.Sprintf("Instructions: %s\n\nText:\n%s", p.Instructions, string(source))
	edited, err := chatComplete(ctx, e.client, e.model, system, user)
	if err != nil {
		return nil, fmt.Errorf("edit %q: %w", unit.Label, err)
	}
	ref, err := e.blobs.Store(ctx, []byte(edited), unit.Label+".txt")
	if err != nil {
		return nil, fmt.Errorf("store edit of %q: %w", unit.Label, err)
	}
	return json.Marshal(sectionOutput{Label: unit.Label, Ref: ref})
}

func (e *AIEditorExecutor) Assemble(plan *worker.Plan, results []worker.UnitResult) (json.RawMessage, error) {
	p := plan.Data.(*tasks.AIEditorPayload)
	out := struct {
		DocumentID string            `json:"document_id"`
		Sections   []json.RawMessage `json:"sections"`
	}{DocumentID: p.DocumentID}
	for _, r := range results {
		out.Sections = append(out.Sections, r.Output)
	}
	return json.Marshal(out)
}
