package core

// ModelParams carries provider-neutral sampling parameters. Pointer fields
// distinguish "unset" from an explicit zero so adapters only forward what the
// caller actually configured.
type ModelParams struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int64   `json:"max_tokens,omitempty"`
}

// ModelRef names the model a session should execute prompts against. It is a
// plain value so it can be swapped inside a write session and republished.
type ModelRef struct {
	Provider string      `json:"provider"`
	Name     string      `json:"name"`
	Params   ModelParams `json:"params"`
}

// Float64 returns a pointer to v, for use in ModelParams literals.
func Float64(v float64) *float64 { return &v }

// Int64 returns a pointer to v, for use in ModelParams literals.
func Int64(v int64) *int64 { return &v }
