// Package events provides the ordered, bounded progress event stream
// emitted by graph nodes and consumed by external UIs.
package events

import "time"

// Kind tags the variant of an Event.
type Kind string

const (
	KindStarted       Kind = "started"
	KindStageUpdate   Kind = "stage_update"
	KindToolExecution Kind = "tool_execution"
	KindNodeStarted   Kind = "node_started"
	KindNodeCompleted Kind = "node_completed"
	KindRAGIndexing   Kind = "rag_indexing"
	KindLLMStream     Kind = "llm_stream_chunk"
	KindError         Kind = "error"
	KindCompleted     Kind = "completed"
	KindProgress      Kind = "progress"
)

// Event is one entry on a run's event bus. Each variant-specific payload
// lives in its own field so a consumer can switch on Kind and read the
// matching field without type assertions.
type Event struct {
	ID        uint64    `json:"id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// StageUpdate / Error / Completed
	Message string `json:"message,omitempty"`

	// ToolExecution
	ToolName string `json:"tool_name,omitempty"`
	ToolArgs string `json:"tool_args,omitempty"`

	// NodeStarted / NodeCompleted
	NodeName    string `json:"node_name,omitempty"`
	Description string `json:"description,omitempty"`
	DurationMs  *int64 `json:"duration_ms,omitempty"`

	// RAGIndexing
	FilesIndexed int  `json:"files_indexed,omitempty"`
	TotalChunks  int  `json:"total_chunks,omitempty"`
	IsComplete   bool `json:"is_complete,omitempty"`

	// LLMStreamChunk
	Content string `json:"content,omitempty"`

	// Progress
	CurrentStep int    `json:"current_step,omitempty"`
	TotalSteps  int    `json:"total_steps,omitempty"`
	StepName    string `json:"step_name,omitempty"`
}

// Started builds a KindStarted event.
func Started() Event { return Event{Kind: KindStarted} }

// StageUpdate builds a KindStageUpdate event.
func StageUpdate(message string) Event {
	return Event{Kind: KindStageUpdate, Message: message}
}

// ToolExecution builds a KindToolExecution event.
func ToolExecution(name, args string) Event {
	return Event{Kind: KindToolExecution, ToolName: name, ToolArgs: args}
}

// NodeStarted builds a KindNodeStarted event.
func NodeStarted(name, description string) Event {
	return Event{Kind: KindNodeStarted, NodeName: name, Description: description}
}

// NodeCompleted builds a KindNodeCompleted event.
func NodeCompleted(name string, durationMs int64) Event {
	d := durationMs
	return Event{Kind: KindNodeCompleted, NodeName: name, DurationMs: &d}
}

// RAGIndexing builds a KindRAGIndexing progress event.
func RAGIndexing(filesIndexed, totalChunks int, isComplete bool) Event {
	return Event{
		Kind:         KindRAGIndexing,
		FilesIndexed: filesIndexed,
		TotalChunks:  totalChunks,
		IsComplete:   isComplete,
	}
}

// LLMStreamChunk builds a KindLLMStream event.
func LLMStreamChunk(content string, isComplete bool) Event {
	return Event{Kind: KindLLMStream, Content: content, IsComplete: isComplete}
}

// Error builds a KindError event.
func Error(message string) Event {
	return Event{Kind: KindError, Message: message}
}

// Completed builds a KindCompleted event.
func Completed(message string) Event {
	return Event{Kind: KindCompleted, Message: message}
}

// Progress builds a KindProgress event.
func Progress(currentStep, totalSteps int, stepName string) Event {
	return Event{Kind: KindProgress, CurrentStep: currentStep, TotalSteps: totalSteps, StepName: stepName}
}
