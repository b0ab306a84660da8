package message

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	ErrUnknownType       = errors.New("unknown type")
	ErrDuplicateType     = errors.New("type already registered")
	ErrInvalidType       = errors.New("unsupported type")
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrNilMessage        = errors.New("message is nil")
)

// Registry maps type names to the concrete message and attribute types they
// identify. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	messages   typeTable
	attributes typeTable
}

type typeTable struct {
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

func newTypeTable() typeTable {
	return typeTable{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
}

// NewRegistry returns a registry that already knows the built-in attributes.
func NewRegistry() *Registry {
	r := &Registry{
		messages:   newTypeTable(),
		attributes: newTypeTable(),
	}
	if err := RegisterAttribute[*MaxAttemptsAttribute](r, "maxAttempts"); err != nil {
		panic(err)
	}
	if err := RegisterAttribute[*AttemptsAttribute](r, "attempts"); err != nil {
		panic(err)
	}
	return r
}

// RegisterMessage makes M known to r under name. M must be a pointer to a
// struct that does not embed *Base. An empty name defaults to the type's
// package path and name.
func RegisterMessage[M Message](r *Registry, name string) error {
	t := reflect.TypeOf((*M)(nil)).Elem()
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("message %s must be a pointer to a struct: %w", t, ErrInvalidType)
	}
	if embedsBasePointer(t.Elem()) {
		return fmt.Errorf("message %s must embed message.Base by value: %w", t, ErrInvalidType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages.add(defaultName(t, name), t)
}

// RegisterAttribute makes A known to r under name. A must be a struct or a
// pointer to a struct. An empty name defaults to the type's package path and
// name.
func RegisterAttribute[A Attribute](r *Registry, name string) error {
	t := reflect.TypeOf((*A)(nil)).Elem()
	switch {
	case t.Kind() == reflect.Struct:
	case t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct:
	default:
		return fmt.Errorf("attribute %s must be a struct or a pointer to a struct: %w", t, ErrInvalidType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attributes.add(defaultName(t, name), t)
}

// embedsBasePointer reports whether st reaches Base through an embedded
// pointer, which a freshly decoded value would leave nil.
func embedsBasePointer(st reflect.Type) bool {
	baseType := reflect.TypeOf((*Base)(nil)).Elem()
	for _, f := range reflect.VisibleFields(st) {
		if !f.Anonymous || (f.Type != baseType && f.Type != reflect.PointerTo(baseType)) {
			continue
		}
		for i := 1; i <= len(f.Index); i++ {
			if st.FieldByIndex(f.Index[:i]).Type.Kind() == reflect.Pointer {
				return true
			}
		}
	}
	return false
}

func (tt typeTable) add(name string, t reflect.Type) error {
	if existing, ok := tt.byName[name]; ok {
		if existing == t {
			return nil
		}
		return fmt.Errorf("name %q is bound to %s: %w", name, existing, ErrDuplicateType)
	}
	if existing, ok := tt.byType[t]; ok {
		return fmt.Errorf("%s is registered as %q: %w", t, existing, ErrDuplicateType)
	}
	tt.byName[name] = t
	tt.byType[t] = name
	return nil
}

func defaultName(t reflect.Type, name string) string {
	if name != "" {
		return name
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.PkgPath() + "." + t.Name()
}

func (r *Registry) messageName(m Message) (string, error) {
	t := reflect.TypeOf(m)
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.messages.byType[t]
	if !ok {
		return "", fmt.Errorf("message %s: %w", t, ErrUnknownType)
	}
	return name, nil
}

func (r *Registry) attributeName(a Attribute) (string, error) {
	t := reflect.TypeOf(a)
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.attributes.byType[t]
	if !ok {
		return "", fmt.Errorf("attribute %s: %w", t, ErrUnknownType)
	}
	return name, nil
}

// newMessage returns a pointer to a fresh zero value of the named message.
func (r *Registry) newMessage(name string) (Message, error) {
	r.mu.RLock()
	t, ok := r.messages.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("message %q: %w", name, ErrUnknownType)
	}
	return reflect.New(t.Elem()).Interface().(Message), nil
}

// newAttribute returns a fresh zero value of the named attribute together
// with a pointer suitable for decoding into it.
func (r *Registry) newAttribute(name string) (target any, value func() Attribute, err error) {
	r.mu.RLock()
	t, ok := r.attributes.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("attribute %q: %w", name, ErrUnknownType)
	}
	if t.Kind() == reflect.Pointer {
		ptr := reflect.New(t.Elem())
		return ptr.Interface(), func() Attribute { return ptr.Interface().(Attribute) }, nil
	}
	ptr := reflect.New(t)
	return ptr.Interface(), func() Attribute { return ptr.Elem().Interface().(Attribute) }, nil
}
