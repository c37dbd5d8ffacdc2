package schema

import (
	"encoding/json"
	"errors"
)

// StepReport records the outcome of one pipeline step, including whether it
// degraded to its deterministic fallback.
type StepReport struct {
	Step     string `json:"step"`
	Fallback bool   `json:"fallback"`
	Detail   string `json:"detail,omitzero"`

	Error error `json:"-"`
}

type stepAlias struct {
	Step     string `json:"step"`
	Fallback bool   `json:"fallback"`
	Detail   string `json:"detail,omitzero"`
	Error    string `json:"error,omitzero"`
}

func (r StepReport) MarshalJSON() ([]byte, error) {
	a := stepAlias{
		Step:     r.Step,
		Fallback: r.Fallback,
		Detail:   r.Detail,
	}
	if r.Error != nil {
		a.Error = r.Error.Error()
	}
	return json.Marshal(a)
}

func (r *StepReport) UnmarshalJSON(data []byte) error {
	var a stepAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	r.Step = a.Step
	r.Fallback = a.Fallback
	r.Detail = a.Detail
	r.Error = nil
	if a.Error != "" {
		r.Error = errors.New(a.Error)
	}

	return nil
}
