package exchange

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from State
		in   Input
		to   State
	}{
		{StateIdle, InputSend, StateSending},
		{StateSending, InputResponse, StateStreaming},
		{StateSending, InputFailed, StateIdle},
		{StateSending, InputCancelled, StateIdle},
		{StateStreaming, InputDone, StateReconciling},
		{StateStreaming, InputFailed, StateIdle},
		{StateStreaming, InputCancelled, StateIdle},
		{StateReconciling, InputReconciled, StateIdle},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.in.String(), func(t *testing.T) {
			to, err := Transition(tt.from, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.to, to)
		})
	}
}

func TestTransitionRejectsInvalidInputs(t *testing.T) {
	tests := []struct {
		from State
		in   Input
	}{
		{StateIdle, InputDone},
		{StateIdle, InputCancelled},
		{StateSending, InputSend},
		{StateSending, InputDone},
		{StateStreaming, InputSend},
		{StateStreaming, InputReconciled},
		{StateReconciling, InputCancelled},
		{StateReconciling, InputFailed},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.in.String(), func(t *testing.T) {
			to, err := Transition(tt.from, tt.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
			assert.Equal(t, tt.from, to)
		})
	}
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "reconciling", StateReconciling.String())
	assert.Equal(t, "state(42)", State(42).String())
	assert.Equal(t, "input(42)", Input(42).String())
}
