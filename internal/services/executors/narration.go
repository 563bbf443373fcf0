package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"folio/internal/models"
	"folio/internal/store"
	"folio/internal/tasks"
	"folio/internal/worker"
)

// NarrationExecutor synthesizes narration audio per text segment via the
// OpenAI speech API. Audio never inlines into job records; each segment's
// MP3 goes to the blob store and the result carries refs.
type NarrationExecutor struct {
	client       *openai.Client
	model        string
	defaultVoice string
	blobs        store.BlobStore
}

var _ worker.Capability = (*NarrationExecutor)(nil)

func NewNarrationExecutor(apiKey, model, defaultVoice string, blobs store.BlobStore) *NarrationExecutor {
	client := newOpenAIClient(apiKey)
	if client == nil {
		log.Warn("OpenAI API key not provided. Narration executor will be disabled.")
	}
	return &NarrationExecutor{client: client, model: model, defaultVoice: defaultVoice, blobs: blobs}
}

func (e *NarrationExecutor) Name() string     { return models.CapabilityNarration }
func (e *NarrationExecutor) TaskType() string { return tasks.TypeNarrationJob }
func (e *NarrationExecutor) Enabled() bool    { return e.client != nil }

func (e *NarrationExecutor) Plan(_ context.Context, payload []byte) (*worker.Plan, error) {
	var p tasks.NarrationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode narration payload: %w", err)
	}
	if p.Voice == "" {
		p.Voice = e.defaultVoice
	}
	units := make([]worker.Unit, len(p.Segments))
	for i, seg := range p.Segments {
		units[i] = worker.Unit{Index: i, Label: seg.Label, Ref: seg.Ref}
	}
	return &worker.Plan{Units: units, Data: &p}, nil
}

type segmentOutput struct {
	Label    string `json:"label"`
	AudioRef string `json:"audio_ref"`
}

func (e *NarrationExecutor) RunUnit(ctx context.Context, plan *worker.Plan, unit worker.Unit) (json.RawMessage, error) {
	if e.client == nil {
		return nil, fmt.Errorf("narration executor is not initialized (missing API key)")
	}
	p := plan.Data.(*tasks.NarrationPayload)

	text, err := e.blobs.Fetch(ctx, unit.Ref)
	if err != nil {
		return nil, fmt.Errorf("fetch segment %q: %w", unit.Label, err)
	}

	res, err := e.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model: openai.SpeechModel(e.model),
		Input: string(text),
		Voice: openai.SpeechVoice(p.Voice),
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error synthesizing %q: %w", unit.Label, err)
	}
	defer res.Close()

	audio, err := io.ReadAll(res)
	if err != nil {
		return nil, fmt.Errorf("read audio for %q: %w", unit.Label, err)
	}
	ref, err := e.blobs.Store(ctx, audio, unit.Label+".mp3")
	if err != nil {
		return nil, fmt.Errorf("store audio for %q: %w", unit.Label, err)
	}
	return json.Marshal(segmentOutput{Label: unit.Label, AudioRef: ref})
}

func (e *NarrationExecutor) Assemble(plan *worker.Plan, results []worker.UnitResult) (json.RawMessage, error) {
	p := plan.Data.(*tasks.NarrationPayload)
	out := struct {
		Voice    string            `json:"voice"`
		Segments []json.RawMessage `json:"segments"`
	}{Voice: p.Voice}
	for _, r := range results {
		out.Segments = append(out.Segments, r.Output)
	}
	return json.Marshal(out)
}
