package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"folio/internal/models"
	"folio/internal/store"
	"folio/internal/tasks"
	"folio/internal/worker"
)

// TranslationExecutor translates book chapters through the Gemini API.
// One unit = one chapter; chapter source text lives in the blob store.
type TranslationExecutor struct {
	client *genai.Client
	model  string
	blobs  store.BlobStore
}

var _ worker.Capability = (*TranslationExecutor)(nil)

// NewTranslationExecutor creates the Gemini-backed translator.
func NewTranslationExecutor(apiKey, modelName string, blobs store.BlobStore) (*TranslationExecutor, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		log.Warn("Gemini API key not provided. Translation executor will be disabled.")
		return &TranslationExecutor{client: nil, model: modelName, blobs: blobs}, nil
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	log.Infof("Translation executor initialized with model %s", modelName)
	return &TranslationExecutor{client: client, model: modelName, blobs: blobs}, nil
}

func (e *TranslationExecutor) Name() string     { return models.CapabilityTranslation }
func (e *TranslationExecutor) TaskType() string { return tasks.TypeTranslationJob }

// Enabled reports whether the provider is configured.
func (e *TranslationExecutor) Enabled() bool { return e.client != nil }

func (e *TranslationExecutor) Plan(_ context.Context, payload []byte) (*worker.Plan, error) {
	var p tasks.TranslationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode translation payload: %w", err)
	}
	units := make([]worker.Unit, len(p.Chapters))
	for i, ch := range p.Chapters {
		units[i] = worker.Unit{Index: i, Label: ch.Title, Ref: ch.Ref}
	}
	return &worker.Plan{Units: units, Data: &p}, nil
}

// chapterOutput is one translated chapter in the job result.
type chapterOutput struct {
	Title string `json:"title"`
	Ref   string `json:"ref"`
}

func (e *TranslationExecutor) RunUnit(ctx context.Context, plan *worker.Plan, unit worker.Unit) (json.RawMessage, error) {
	if e.client == nil {
		return nil, fmt.Errorf("translation executor is not initialized (missing API key)")
	}
	p := plan.Data.(*tasks.TranslationPayload)

	source, err := e.blobs.Fetch(ctx, unit.Ref)
	if err != nil {
		return nil, fmt.Errorf("fetch chapter %q: %w", unit.Label, err)
	}

	prompt := fmt.Sprintf(
		"Translate the following book chapter into %s. Preserve paragraph structure and formatting. Output only the translated text.\n\n%s",
		p.TargetLanguage, string(source))
	if p.SourceLanguage != "" {
		prompt = fmt.Sprintf("The source language is %s. %s", p.SourceLanguage, prompt)
	}

	model := e.client.GenerativeModel(e.model)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("Gemini API error translating %q: %w", unit.Label, err)
	}
	translated, err := responseText(resp)
	if err != nil {
		return nil, fmt.Errorf("translate %q: %w", unit.Label, err)
	}

	ref, err := e.blobs.Store(ctx, []byte(translated), unit.Label+".txt")
	if err != nil {
		return nil, fmt.Errorf("store translation of %q: %w", unit.Label, err)
	}
	return json.Marshal(chapterOutput{Title: unit.Label, Ref: ref})
}

func (e *TranslationExecutor) Assemble(plan *worker.Plan, results []worker.UnitResult) (json.RawMessage, error) {
	p := plan.Data.(*tasks.TranslationPayload)
	out := struct {
		BookID         string            `json:"book_id"`
		TargetLanguage string            `json:"target_language"`
		Chapters       []json.RawMessage `json:"chapters"`
	}{BookID: p.BookID, TargetLanguage: p.TargetLanguage}
	for _, r := range results {
		out.Chapters = append(out.Chapters, r.Output)
	}
	return json.Marshal(out)
}

// responseText flattens the text parts of a Gemini response.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("Gemini API returned no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("Gemini API returned no text parts")
	}
	return sb.String(), nil
}
