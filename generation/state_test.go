package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateAwaitingRetrieval, true},
		{StateIdle, StateAnswering, false},
		{StateIdle, StateRetrieved, false},
		{StateIdle, StateDone, false},
		{StateAwaitingRetrieval, StateRetrieved, true},
		{StateAwaitingRetrieval, StateAnswering, false},
		{StateRetrieved, StateAnswering, true},
		{StateRetrieved, StateDone, true},
		{StateAnswering, StateDone, true},
		{StateAnswering, StateAwaitingRetrieval, true},
		{StateAnswering, StateRetrieved, false},
		{StateIdle, StateError, true},
		{StateAnswering, StateError, true},
		{StateDone, StateError, false},
		{StateError, StateIdle, false},
		{StateDone, StateAwaitingRetrieval, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestMachine(t *testing.T) {
	t.Run("records history and notifies observer", func(t *testing.T) {
		var seen [][2]State
		m := newMachine(func(from, to State) { seen = append(seen, [2]State{from, to}) })

		require.NoError(t, m.advance(StateAwaitingRetrieval))
		require.NoError(t, m.advance(StateRetrieved))

		assert.Equal(t, []State{StateIdle, StateAwaitingRetrieval, StateRetrieved}, m.states())
		assert.Equal(t, [][2]State{
			{StateIdle, StateAwaitingRetrieval},
			{StateAwaitingRetrieval, StateRetrieved},
		}, seen)
	})

	t.Run("rejects answering before retrieval", func(t *testing.T) {
		m := newMachine(nil)
		err := m.advance(StateAnswering)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, StateIdle, m.state)
	})

	t.Run("fail is terminal", func(t *testing.T) {
		m := newMachine(nil)
		require.NoError(t, m.advance(StateAwaitingRetrieval))
		m.fail(assert.AnError)
		m.fail(assert.AnError)

		assert.Equal(t, []State{StateIdle, StateAwaitingRetrieval, StateError}, m.states())
		assert.ErrorIs(t, m.advance(StateRetrieved), ErrInvalidTransition)
	})
}
