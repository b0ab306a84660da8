// Package message defines the envelope exchanged through the work queue: a
// polymorphic Message carrying a set of typed Attributes, plus the Registry
// and Codec that preserve the concrete types of both across a wire or
// storage boundary.
package message

import "reflect"

// Message is a unit of queue work. Concrete variants embed Base and are used
// through pointers. Apart from their attributes, variants should be treated
// as immutable values.
type Message interface {
	Attributes() *Attributes
}

// Base provides the attribute set for a Message variant. It must be embedded
// by value; RegisterMessage rejects variants embedding *Base. A variant
// copied by value starts with no attributes.
//
//	type StartExecution struct {
//		message.Base
//		ExecutionID string `json:"executionId"`
//	}
type Base struct {
	attributes Attributes
}

// Attributes returns the message's attribute set.
func (b *Base) Attributes() *Attributes {
	return &b.attributes
}

// GetAttribute returns the attribute of exact type A held by m. Subtypes and
// other implementations of a shared interface never match, so asking for an
// interface type always reports false.
func GetAttribute[A Attribute](m Message) (A, bool) {
	var zero A
	a, ok := m.Attributes().get(reflect.TypeOf((*A)(nil)).Elem())
	if !ok {
		return zero, false
	}
	typed, ok := a.(A)
	if !ok {
		return zero, false
	}
	return typed, true
}

// SetAttribute stores a on m, discarding any attribute of the same concrete
// type, and returns a. A nil attribute is ignored.
func SetAttribute[A Attribute](m Message, a A) A {
	if isNil(a) {
		return a
	}
	m.Attributes().put(a)
	return a
}

func isNil(a Attribute) bool {
	if a == nil {
		return true
	}
	v := reflect.ValueOf(a)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
