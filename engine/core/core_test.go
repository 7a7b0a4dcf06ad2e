package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusRegisterFire(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	listener := &struct{ name string }{"queue"}

	require.True(t, bus.Register(EVENT_CODE_SCENE_CHANGED, listener, func(ctx EventContext) bool {
		calls++
		return false
	}))
	assert.False(t, bus.Register(EVENT_CODE_SCENE_CHANGED, listener, func(EventContext) bool { return false }),
		"duplicate listener must be refused")

	bus.Fire(EventContext{Type: EVENT_CODE_SCENE_CHANGED})
	bus.Fire(EventContext{Type: EVENT_CODE_MATERIAL_CHANGED})
	assert.Equal(t, 1, calls)

	require.True(t, bus.Unregister(EVENT_CODE_SCENE_CHANGED, listener))
	bus.Fire(EventContext{Type: EVENT_CODE_SCENE_CHANGED})
	assert.Equal(t, 1, calls)
	assert.False(t, bus.Unregister(EVENT_CODE_SCENE_CHANGED, listener))
}

func TestEventBusHandledStopsPropagation(t *testing.T) {
	bus := NewEventBus()
	var order []string
	bus.Register(EVENT_CODE_RESIZED, "a", func(EventContext) bool { order = append(order, "a"); return true })
	bus.Register(EVENT_CODE_RESIZED, "b", func(EventContext) bool { order = append(order, "b"); return false })

	assert.True(t, bus.Fire(EventContext{Type: EVENT_CODE_RESIZED}))
	assert.Equal(t, []string{"a"}, order)
}

func TestIsRecreateCondition(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrDeviceLost, true},
		{fmt.Errorf("submit: %w", ErrOutOfDate), true},
		{fmt.Errorf("frame 3: %w", fmt.Errorf("record: %w", ErrOutOfMemory)), true},
		{ErrUnsupportedFlags, false},
		{errors.New("other"), false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRecreateCondition(tt.err), "%v", tt.err)
	}
}

func TestMetricsAverage(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.016)
	}
	_, avg := m.Frame()
	assert.InDelta(t, 16.0, avg, 0.001)
}
