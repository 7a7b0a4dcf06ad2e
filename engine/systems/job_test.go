package systems

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
)

func TestNewJobSystemValidation(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)
}

func TestRunAllCollectsErrors(t *testing.T) {
	js, err := NewJobSystem(3, 4)
	require.NoError(t, err)
	defer js.Shutdown()

	var ran atomic.Int32
	tasks := []JobTask{
		{Name: "opaque", Run: func() error { ran.Add(1); return nil }},
		{Name: "shadow", Run: func() error { ran.Add(1); return core.ErrDeviceLost }},
		{Name: "transparent", Run: func() error { ran.Add(1); return nil }},
	}
	err = js.RunAll(tasks)
	assert.Equal(t, int32(3), ran.Load())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDeviceLost))
	assert.Contains(t, err.Error(), "shadow")

	assert.NoError(t, js.RunAll([]JobTask{{Name: "ok", Run: func() error { return nil }}}))
	assert.NoError(t, js.RunAll(nil))
}
