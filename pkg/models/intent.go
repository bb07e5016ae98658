package models

// Intent labels an inbound message with the rule-based classifier's verdict.
type Intent string

const (
	IntentGreeting  Intent = "greeting"
	IntentPersonal  Intent = "personal"
	IntentKnowledge Intent = "knowledge"
	IntentResearch  Intent = "research"
	IntentTask      Intent = "task"
	IntentGeneral   Intent = "general"
)

// IntentClassification decides which context sources are consulted for a turn.
type IntentClassification struct {
	Intent      Intent  `json:"intent"`
	Confidence  float64 `json:"confidence"`
	EnableBrain bool    `json:"enable_brain"`
	EnableWeb   bool    `json:"enable_web"`
	EnableFacts bool    `json:"enable_facts"`
}

// SourceRecord accumulates provenance for one consulted source during a
// request, for citation decoration.
type SourceRecord struct {
	ToolName string         `json:"tool_name"`
	Success  bool           `json:"success"`
	Sources  []string       `json:"sources,omitempty"`
	Snippets []string       `json:"snippets,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
