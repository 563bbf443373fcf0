package executors

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/internal/store/storetest"
	"folio/internal/tasks"
	"folio/internal/worker"
)

// Plan and Assemble are pure; they run without any provider client.

func TestTranslationPlan(t *testing.T) {
	exec, err := NewTranslationExecutor("", "models/gemini-1.5-pro", storetest.NewBlobs())
	require.NoError(t, err)
	assert.False(t, exec.Enabled())

	payload, err := json.Marshal(tasks.TranslationPayload{
		JobEnvelope:    tasks.JobEnvelope{JobID: "job-1", UserID: "user-1"},
		BookID:         "book-9",
		TargetLanguage: "French",
		Chapters: []tasks.ChapterRef{
			{Title: "Chapter 1", Ref: "ch-1"},
			{Title: "Chapter 2", Ref: "ch-2"},
		},
	})
	require.NoError(t, err)

	plan, err := exec.Plan(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, plan.Units, 2)
	assert.Equal(t, "Chapter 1", plan.Units[0].Label)
	assert.Equal(t, "ch-2", plan.Units[1].Ref)
	assert.False(t, plan.AllOrNothing)
}

func TestTranslationAssemble(t *testing.T) {
	exec, err := NewTranslationExecutor("", "models/gemini-1.5-pro", storetest.NewBlobs())
	require.NoError(t, err)

	plan := &worker.Plan{Data: &tasks.TranslationPayload{
		BookID:         "book-9",
		TargetLanguage: "French",
	}}
	results := []worker.UnitResult{
		{Index: 0, Label: "Chapter 1", Output: json.RawMessage(`{"title":"Chapter 1","ref":"out-1"}`)},
		{Index: 1, Label: "Chapter 2", Output: json.RawMessage(`{"title":"Chapter 2","ref":"out-2"}`)},
	}
	out, err := exec.Assemble(plan, results)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"book_id": "book-9",
		"target_language": "French",
		"chapters": [
			{"title":"Chapter 1","ref":"out-1"},
			{"title":"Chapter 2","ref":"out-2"}
		]
	}`, string(out))
}

func TestTranslationRunUnitWithoutClient(t *testing.T) {
	exec, err := NewTranslationExecutor("", "models/gemini-1.5-pro", storetest.NewBlobs())
	require.NoError(t, err)

	plan := &worker.Plan{Data: &tasks.TranslationPayload{TargetLanguage: "French"}}
	_, err = exec.RunUnit(context.Background(), plan, worker.Unit{Label: "Chapter 1", Ref: "ch-1"})
	assert.ErrorContains(t, err, "missing API key")
}

func TestSlideFormatPlan(t *testing.T) {
	exec := NewSlideFormatExecutor("", "gpt-4o", storetest.NewBlobs())

	payload, err := json.Marshal(tasks.SlideFormatPayload{
		JobEnvelope: tasks.JobEnvelope{JobID: "job-1"},
		DeckID:      "deck-3",
		Slides: []tasks.SlideRef{
			{Index: 0, Ref: "s-0"},
			{Index: 1, Ref: "s-1"},
			{Index: 2, Ref: "s-2"},
		},
	})
	require.NoError(t, err)

	plan, err := exec.Plan(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, plan.Units, 3)
	assert.Equal(t, "Slide 2", plan.Units[1].Label)
	assert.Equal(t, "s-1", plan.Units[1].Ref)
}

func TestSlideGeneratePlanSyntheticUnits(t *testing.T) {
	exec := NewSlideGenerateExecutor("", "gpt-4o")

	payload, err := json.Marshal(tasks.SlideGeneratePayload{
		JobEnvelope: tasks.JobEnvelope{JobID: "job-1"},
		Topic:       "Intro to beekeeping",
		SlideCount:  5,
	})
	require.NoError(t, err)

	plan, err := exec.Plan(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, plan.Units, 5)
	assert.Equal(t, "Slide 1 of 5", plan.Units[0].Label)
	assert.Equal(t, "Slide 5 of 5", plan.Units[4].Label)
}

func TestNarrationPlanDefaultsVoice(t *testing.T) {
	exec := NewNarrationExecutor("", "tts-1", "alloy", storetest.NewBlobs())

	payload, err := json.Marshal(tasks.NarrationPayload{
		JobEnvelope: tasks.JobEnvelope{JobID: "job-1"},
		Segments: []tasks.SegmentRef{
			{Label: "Intro", Ref: "seg-0"},
			{Label: "Scene 1", Ref: "seg-1"},
		},
	})
	require.NoError(t, err)

	plan, err := exec.Plan(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, plan.Units, 2)
	p := plan.Data.(*tasks.NarrationPayload)
	assert.Equal(t, "alloy", p.Voice)
}

func TestAIEditorPlan(t *testing.T) {
	exec := NewAIEditorExecutor("", "gpt-4o", storetest.NewBlobs())

	payload, err := json.Marshal(tasks.AIEditorPayload{
		JobEnvelope:  tasks.JobEnvelope{JobID: "job-1"},
		DocumentID:   "doc-7",
		Instructions: "tighten the prose",
		Sections: []tasks.SectionRef{
			{Label: "Preface", Ref: "sec-0"},
		},
	})
	require.NoError(t, err)

	plan, err := exec.Plan(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, plan.Units, 1)
	assert.Equal(t, "Preface", plan.Units[0].Label)
}
