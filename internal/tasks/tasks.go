package tasks

// Defines task types and typed payloads for the Asynq queues.
// One queue per capability so worker pools scale independently.

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"folio/internal/models"
)

const (
	// TypeTranslationJob translates the chapters of a book.
	TypeTranslationJob = "translation:run"
	// TypeSlideFormatJob reformats an existing slide deck.
	TypeSlideFormatJob = "slides:format"
	// TypeSlideGenerateJob generates a new deck from a topic.
	TypeSlideGenerateJob = "slides:generate"
	// TypeNarrationJob synthesizes narration audio per segment.
	TypeNarrationJob = "narration:synthesize"
	// TypeAIEditorJob applies editing instructions per document section.
	TypeAIEditorJob = "editor:run"
)

// QueueFor maps a capability to the queue its workers consume.
// Queue names intentionally match capability names.
func QueueFor(capability string) string {
	return capability
}

// TypeFor maps a capability to its Asynq task type.
func TypeFor(capability string) (string, error) {
	switch capability {
	case models.CapabilityTranslation:
		return TypeTranslationJob, nil
	case models.CapabilitySlideFormat:
		return TypeSlideFormatJob, nil
	case models.CapabilitySlideGenerate:
		return TypeSlideGenerateJob, nil
	case models.CapabilityNarration:
		return TypeNarrationJob, nil
	case models.CapabilityAIEditor:
		return TypeAIEditorJob, nil
	}
	return "", fmt.Errorf("unknown capability %q", capability)
}

// JobEnvelope is embedded in every payload. The worker harness decodes only
// the envelope; the rest of the payload is opaque to it.
type JobEnvelope struct {
	JobID  string `json:"job_id"`
	UserID string `json:"user_id"`
}

// ChapterRef points at one chapter's source text in the blob store.
type ChapterRef struct {
	Title string `json:"title"`
	Ref   string `json:"ref"`
}

// TranslationPayload is the task body for book translation jobs.
type TranslationPayload struct {
	JobEnvelope
	BookID         string       `json:"book_id"`
	SourceLanguage string       `json:"source_language,omitempty"`
	TargetLanguage string       `json:"target_language"`
	Chapters       []ChapterRef `json:"chapters"`
}

// SlideRef points at one slide's raw content in the blob store.
type SlideRef struct {
	Index int    `json:"index"`
	Ref   string `json:"ref"`
}

// SlideFormatPayload is the task body for slide formatting jobs.
type SlideFormatPayload struct {
	JobEnvelope
	DeckID string     `json:"deck_id"`
	Style  string     `json:"style,omitempty"`
	Slides []SlideRef `json:"slides"`
}

// SlideGeneratePayload is the task body for slide generation jobs.
// Units are synthetic here: one per slide to be generated.
type SlideGeneratePayload struct {
	JobEnvelope
	Topic      string `json:"topic"`
	Language   string `json:"language,omitempty"`
	SlideCount int    `json:"slide_count"`
}

// SegmentRef points at one narration segment's text in the blob store.
type SegmentRef struct {
	Label string `json:"label"`
	Ref   string `json:"ref"`
}

// NarrationPayload is the task body for narration audio jobs.
type NarrationPayload struct {
	JobEnvelope
	Voice    string       `json:"voice,omitempty"`
	Segments []SegmentRef `json:"segments"`
}

// SectionRef points at one document section in the blob store.
type SectionRef struct {
	Label string `json:"label"`
	Ref   string `json:"ref"`
}

// AIEditorPayload is the task body for AI editing jobs.
type AIEditorPayload struct {
	JobEnvelope
	DocumentID   string       `json:"document_id"`
	Instructions string       `json:"instructions"`
	Sections     []SectionRef `json:"sections"`
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", taskType, err)
	}
	return asynq.NewTask(taskType, b), nil
}

// NewTranslationTask builds the queue task for a translation job.
func NewTranslationTask(p TranslationPayload) (*asynq.Task, error) {
	return newTask(TypeTranslationJob, p)
}

// NewSlideFormatTask builds the queue task for a slide formatting job.
func NewSlideFormatTask(p SlideFormatPayload) (*asynq.Task, error) {
	return newTask(TypeSlideFormatJob, p)
}

// NewSlideGenerateTask builds the queue task for a slide generation job.
func NewSlideGenerateTask(p SlideGeneratePayload) (*asynq.Task, error) {
	return newTask(TypeSlideGenerateJob, p)
}

// NewNarrationTask builds the queue task for a narration audio job.
func NewNarrationTask(p NarrationPayload) (*asynq.Task, error) {
	return newTask(TypeNarrationJob, p)
}

// NewAIEditorTask builds the queue task for an AI editing job.
func NewAIEditorTask(p AIEditorPayload) (*asynq.Task, error) {
	return newTask(TypeAIEditorJob, p)
}

// DecodeEnvelope extracts the common envelope from any task payload.
func DecodeEnvelope(payload []byte) (JobEnvelope, error) {
	var env JobEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return env, fmt.Errorf("decode task envelope: %w", err)
	}
	if env.JobID == "" {
		return env, fmt.Errorf("task envelope missing job_id")
	}
	return env, nil
}
