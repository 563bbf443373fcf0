package models

/*
Job status and capability constants used throughout the codebase.
Centralizing these avoids magic strings and improves maintainability.
*/

// Job status constants. A job moves pending -> processing -> one of the
// terminal states and never leaves a terminal state.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// Capability names. Each capability has its own worker queue so pools
// scale independently and cheap work is never stuck behind expensive work.
const (
	CapabilityTranslation   = "translation"
	CapabilitySlideFormat   = "slide-format"
	CapabilitySlideGenerate = "slide-generate"
	CapabilityNarration     = "narration"
	CapabilityAIEditor      = "ai-editor"
)

// Capabilities lists every capability the platform serves.
var Capabilities = []string{
	CapabilityTranslation,
	CapabilitySlideFormat,
	CapabilitySlideGenerate,
	CapabilityNarration,
	CapabilityAIEditor,
}

// IsTerminalStatus reports whether a status value is terminal.
func IsTerminalStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ValidCapability reports whether name is a known capability.
func ValidCapability(name string) bool {
	for _, c := range Capabilities {
		if c == name {
			return true
		}
	}
	return false
}
