package message

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// envelope is the serialized form of a Message. Both the message and each of
// its attributes are tagged with their registered type name.
type envelope struct {
	Type       string             `json:"type"`
	Payload    json.RawMessage    `json:"payload"`
	Attributes []encodedAttribute `json:"attributes,omitempty"`
}

type encodedAttribute struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// Codec serializes messages so that the concrete types of the message and its
// attributes survive a round trip.
type Codec struct {
	registry *Registry
}

// NewCodec creates a Codec backed by r.
func NewCodec(r *Registry) *Codec {
	return &Codec{registry: r}
}

// TypeName returns the name m's concrete type is registered under.
func (c *Codec) TypeName(m Message) (string, error) {
	if isNilMessage(m) {
		return "", ErrNilMessage
	}
	return c.registry.messageName(m)
}

// Marshal encodes m and its attributes.
func (c *Codec) Marshal(m Message) ([]byte, error) {
	if isNilMessage(m) {
		return nil, ErrNilMessage
	}
	name, err := c.registry.messageName(m)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}

	env := envelope{Type: name, Payload: payload}
	for _, a := range m.Attributes().All() {
		attrName, err := c.registry.attributeName(a)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal attribute %s: %w", attrName, err)
		}
		env.Attributes = append(env.Attributes, encodedAttribute{Type: attrName, Value: value})
	}
	return json.Marshal(env)
}

// Unmarshal decodes data into a new instance of the message type named in
// it. Unknown type names are reported as ErrUnknownType; anything else that
// cannot be decoded is reported as ErrMalformedEnvelope.
func (c *Codec) Unmarshal(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing message type", ErrMalformedEnvelope)
	}

	m, err := c.registry.newMessage(env.Type)
	if err != nil {
		return nil, err
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, m); err != nil {
			return nil, fmt.Errorf("%w: payload of %s: %v", ErrMalformedEnvelope, env.Type, err)
		}
	}

	seen := make(map[string]struct{}, len(env.Attributes))
	for _, ea := range env.Attributes {
		if ea.Type == "" {
			return nil, fmt.Errorf("%w: missing attribute type", ErrMalformedEnvelope)
		}
		if _, dup := seen[ea.Type]; dup {
			return nil, fmt.Errorf("%w: attribute %s appears more than once", ErrMalformedEnvelope, ea.Type)
		}
		seen[ea.Type] = struct{}{}

		target, value, err := c.registry.newAttribute(ea.Type)
		if err != nil {
			return nil, err
		}
		raw := ea.Value
		if len(raw) == 0 {
			raw = json.RawMessage("{}")
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return nil, fmt.Errorf("%w: attribute %s: %v", ErrMalformedEnvelope, ea.Type, err)
		}
		m.Attributes().put(value())
	}
	return m, nil
}

func isNilMessage(m Message) bool {
	if m == nil {
		return true
	}
	v := reflect.ValueOf(m)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
