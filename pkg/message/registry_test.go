package message_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/jeyrschabu/keiko/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notAStructMessage map[string]string

func (m notAStructMessage) Attributes() *message.Attributes { return &message.Attributes{} }

type basePointerMessage struct {
	*message.Base
	ID string `json:"id"`
}

type stageHeader struct {
	message.Base
}

type nestedBasePointerMessage struct {
	*stageHeader
	ID string `json:"id"`
}

type nestedBaseMessage struct {
	stageHeader
	ID string `json:"id"`
}

type scalarAttribute int

func (scalarAttribute) IsAttribute() {}

func TestRegistry_RegisterMessage(t *testing.T) {
	t.Run("same pair twice is accepted", func(t *testing.T) {
		r := message.NewRegistry()
		require.NoError(t, message.RegisterMessage[*startExecution](r, "startExecution"))
		assert.NoError(t, message.RegisterMessage[*startExecution](r, "startExecution"))
	})

	t.Run("name bound to another type", func(t *testing.T) {
		r := message.NewRegistry()
		require.NoError(t, message.RegisterMessage[*startExecution](r, "work"))
		err := message.RegisterMessage[*completeStage](r, "work")
		assert.ErrorIs(t, err, message.ErrDuplicateType)
	})

	t.Run("type bound to another name", func(t *testing.T) {
		r := message.NewRegistry()
		require.NoError(t, message.RegisterMessage[*startExecution](r, "a"))
		err := message.RegisterMessage[*startExecution](r, "b")
		assert.ErrorIs(t, err, message.ErrDuplicateType)
	})

	t.Run("non-struct message is rejected", func(t *testing.T) {
		r := message.NewRegistry()
		err := message.RegisterMessage[notAStructMessage](r, "bad")
		assert.ErrorIs(t, err, message.ErrInvalidType)
	})

	t.Run("embedded *Base is rejected", func(t *testing.T) {
		r := message.NewRegistry()
		err := message.RegisterMessage[*basePointerMessage](r, "bad")
		assert.ErrorIs(t, err, message.ErrInvalidType)
	})

	t.Run("Base behind an embedded pointer is rejected", func(t *testing.T) {
		r := message.NewRegistry()
		err := message.RegisterMessage[*nestedBasePointerMessage](r, "bad")
		assert.ErrorIs(t, err, message.ErrInvalidType)
	})

	t.Run("Base embedded by value through a struct is accepted", func(t *testing.T) {
		r := message.NewRegistry()
		assert.NoError(t, message.RegisterMessage[*nestedBaseMessage](r, "nested"))
	})

	t.Run("interface type is rejected", func(t *testing.T) {
		r := message.NewRegistry()
		err := message.RegisterMessage[message.Message](r, "bad")
		assert.ErrorIs(t, err, message.ErrInvalidType)
	})
}

func TestRegistry_RegisterAttribute(t *testing.T) {
	t.Run("new registry does not panic", func(t *testing.T) {
		assert.NotPanics(t, func() { _ = message.NewRegistry() })
	})

	t.Run("built-ins are pre-registered", func(t *testing.T) {
		r := message.NewRegistry()
		assert.NoError(t, message.RegisterAttribute[*message.AttemptsAttribute](r, "attempts"))
		assert.ErrorIs(t, message.RegisterAttribute[*auditAttribute](r, "attempts"), message.ErrDuplicateType)
	})

	t.Run("value and pointer structs are accepted", func(t *testing.T) {
		r := message.NewRegistry()
		assert.NoError(t, message.RegisterAttribute[traceAttribute](r, "trace"))
		assert.NoError(t, message.RegisterAttribute[*traceAttribute](r, "tracePtr"))
	})

	t.Run("non-struct attribute is rejected", func(t *testing.T) {
		r := message.NewRegistry()
		err := message.RegisterAttribute[scalarAttribute](r, "scalar")
		assert.ErrorIs(t, err, message.ErrInvalidType)
	})
}

func TestRegistry_DefaultName(t *testing.T) {
	r := message.NewRegistry()
	require.NoError(t, message.RegisterMessage[*startExecution](r, ""))
	codec := message.NewCodec(r)

	name, err := codec.TypeName(&startExecution{})
	require.NoError(t, err)
	assert.Equal(t, "github.com/jeyrschabu/keiko/pkg/message_test.startExecution", name)
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	r := message.NewRegistry()
	require.NoError(t, message.RegisterMessage[*startExecution](r, "startExecution"))
	codec := message.NewCodec(r)

	seed := &startExecution{ExecutionID: "exec-1"}
	message.SetAttribute(seed, &message.MaxAttemptsAttribute{MaxAttempts: 4})
	message.SetAttribute(seed, &message.AttemptsAttribute{Attempts: 1})
	data, err := codec.Marshal(seed)
	require.NoError(t, err)

	testCases := []struct {
		name string
		run  func() error
	}{
		{name: "register value attribute", run: func() error { return message.RegisterAttribute[traceAttribute](r, "trace") }},
		{name: "register pointer attribute", run: func() error { return message.RegisterAttribute[*auditAttribute](r, "audit") }},
		{name: "register message", run: func() error { return message.RegisterMessage[*completeStage](r, "completeStage") }},
		{name: "unmarshal", run: func() error {
			m, err := codec.Unmarshal(data)
			if err != nil {
				return err
			}
			message.IncrementAttempts(m)
			return nil
		}},
		{name: "marshal", run: func() error {
			m := &startExecution{ExecutionID: "exec-2"}
			message.SetAttribute(m, &message.AttemptsAttribute{Attempts: 3})
			_, err := codec.Marshal(m)
			return err
		}},
	}

	const goroutinesPerCase = 8
	const iterations = 50

	var wg sync.WaitGroup
	errs := make(chan error, len(testCases)*goroutinesPerCase*iterations)
	for _, tc := range testCases {
		tc := tc
		for g := 0; g < goroutinesPerCase; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < iterations; i++ {
					if err := tc.run(); err != nil {
						errs <- fmt.Errorf("%s: %w", tc.name, err)
					}
				}
			}()
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	// Everything registered concurrently is usable afterwards.
	m := &completeStage{StageID: "s-1"}
	message.SetAttribute(m, traceAttribute{TraceID: "t-1"})
	message.SetAttribute(m, &auditAttribute{User: "ops"})
	encoded, err := codec.Marshal(m)
	require.NoError(t, err)
	decoded, err := codec.Unmarshal(encoded)
	require.NoError(t, err)
	assert.IsType(t, &completeStage{}, decoded)
	assert.Equal(t, 2, decoded.Attributes().Len())
}
