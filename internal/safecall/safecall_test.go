package safecall

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/pacer/internal/errors"
	"github.com/Iron-Ham/pacer/internal/logging"
)

func TestCall_Success(t *testing.T) {
	called := false
	err := Call(Site{Component: "test"}, func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestCall_PanicBecomesCallbackFailure(t *testing.T) {
	err := Run(Site{Component: "coalescer", Key: "BAG_UPDATE"}, func() {
		panic("boom")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCallbackFailure)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "key=BAG_UPDATE")
}

func TestCall_ReturnedErrorBecomesCallbackFailure(t *testing.T) {
	cause := errors.New("refresh failed")
	err := Call(Site{Component: "deferred"}, func() error { return cause })
	assert.ErrorIs(t, err, errors.ErrCallbackFailure)
	assert.ErrorIs(t, err, cause)
}

func TestCall_NilIsInvalidInput(t *testing.T) {
	assert.ErrorIs(t, Run(Site{}, nil), errors.ErrInvalidInput)
}

func TestInvoke_LogsCriticalAndMeasures(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLoggerWithWriter(&buf, logging.LevelDebug)

	clock := time.Unix(0, 0)
	now := func() time.Time { return clock }

	took, err := Invoke(logger, Site{Component: "dirty"}, now, func() {
		clock = clock.Add(3 * time.Millisecond)
		panic("stale frame")
	})

	require.Error(t, err)
	assert.Equal(t, 3*time.Millisecond, took)
	assert.True(t, strings.Contains(buf.String(), `"level":"CRITICAL"`), buf.String())
}

func TestSite_String(t *testing.T) {
	assert.Equal(t, "dirty", Site{Component: "dirty"}.String())
	assert.Equal(t, "coalescer/UNIT_AURA", Site{Component: "coalescer", Key: "UNIT_AURA"}.String())
}
