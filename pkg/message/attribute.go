package message

import "encoding/json"

// Attribute is the capability implemented by every piece of message metadata.
// A message holds at most one attribute per concrete type. Variants defined
// outside this package must be registered with a Registry before they can be
// serialized.
type Attribute interface {
	IsAttribute()
}

// DefaultMaxAttempts signals that the queue runtime should apply its own
// retry ceiling.
const DefaultMaxAttempts = -1

// MaxAttemptsAttribute declares the retry ceiling for the owning message.
type MaxAttemptsAttribute struct {
	MaxAttempts int `json:"maxAttempts"`
}

// NewMaxAttemptsAttribute returns an attribute set to DefaultMaxAttempts.
func NewMaxAttemptsAttribute() *MaxAttemptsAttribute {
	return &MaxAttemptsAttribute{MaxAttempts: DefaultMaxAttempts}
}

func (*MaxAttemptsAttribute) IsAttribute() {}

// UnmarshalJSON keeps DefaultMaxAttempts when the field is absent.
func (a *MaxAttemptsAttribute) UnmarshalJSON(data []byte) error {
	type plain MaxAttemptsAttribute
	decoded := plain{MaxAttempts: DefaultMaxAttempts}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*a = MaxAttemptsAttribute(decoded)
	return nil
}

// AttemptsAttribute counts the delivery attempts made so far. It is updated
// in place by the queue runtime on each redelivery.
type AttemptsAttribute struct {
	Attempts int `json:"attempts"`
}

func (*AttemptsAttribute) IsAttribute() {}

// Increment bumps the counter and returns the new value.
func (a *AttemptsAttribute) Increment() int {
	a.Attempts++
	return a.Attempts
}
