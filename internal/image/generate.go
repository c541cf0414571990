package image

import "context"

// SeedRandom asks the server to pick the seed.
const SeedRandom = -1

// Params is a single generation request. Numeric fields are sent as given;
// the server owns their valid ranges.
type Params struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	CFGScale       float64 `json:"cfg_scale"`
	Seed           int64   `json:"seed"`
	BatchCount     int     `json:"batch_count"`

	// Style names a preset to merge into the prompts before submission.
	Style string `json:"-"`
}

// Outcome is the result of an operation that only reports success or failure.
// Message is always suitable for showing to a user.
type Outcome struct {
	Message string
	Err     error
}

func (o Outcome) OK() bool { return o.Err == nil }

// Result is the outcome of Generate. Paths lists the saved images in the
// order the server named them and is nil unless every download succeeded.
type Result struct {
	Outcome
	Paths []string
}

// Status is the server's status document, or a description of why it could
// not be read.
type Status struct {
	Fields map[string]any
	Error  string
	Err    error
}

func (s Status) OK() bool { return s.Err == nil }

// Map renders the status the way front-ends display it: the server's own
// fields, or a single "error" entry.
func (s Status) Map() map[string]any {
	if s.Err != nil {
		return map[string]any{"error": s.Error}
	}
	return s.Fields
}

type Generator interface {
	Status(context.Context) Status
	LoadModel(context.Context, string) Outcome
	Generate(context.Context, Params) Result
}
