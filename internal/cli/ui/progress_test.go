package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpinnerStartStop(t *testing.T) {
	var buf bytes.Buffer
	spinner := NewSpinner(&buf, SpinnerOptions{
		Message:  "Packaging lidar-driver",
		NoColor:  true,
		Interval: 10 * time.Millisecond,
	})

	spinner.Start()
	time.Sleep(60 * time.Millisecond)
	spinner.Stop()

	// The animation goroutine has exited once Stop returns
	output := buf.String()
	assert.Contains(t, output, "Packaging lidar-driver")
	assert.True(t, strings.HasSuffix(output, "\r\033[K"))
}

func TestSpinnerStopIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	spinner := NewSpinner(&buf, SpinnerOptions{NoColor: true})

	// Stop before Start writes nothing
	spinner.Stop()
	assert.Empty(t, buf.String())

	spinner.Start()
	spinner.Start()
	spinner.Stop()
	spinner.Stop()
	assert.Equal(t, 1, strings.Count(buf.String(), "\r\033[K"))
}

func TestSpinnerUpdateMessage(t *testing.T) {
	var buf bytes.Buffer
	spinner := NewSpinner(&buf, SpinnerOptions{
		Message:  "Initial message",
		NoColor:  true,
		Interval: 10 * time.Millisecond,
	})

	spinner.Start()
	spinner.UpdateMessage("Updated message")
	time.Sleep(60 * time.Millisecond)
	spinner.Stop()

	assert.Contains(t, buf.String(), "Updated message")
}

func TestSpinnerNoColor(t *testing.T) {
	var buf bytes.Buffer
	spinner := NewSpinner(&buf, SpinnerOptions{
		Message:  "Testing",
		NoColor:  true,
		Interval: 10 * time.Millisecond,
	})

	spinner.Start()
	time.Sleep(40 * time.Millisecond)
	spinner.Success("done")

	assert.NotContains(t, buf.String(), "\x1b[3")
}

func TestWithSpinner(t *testing.T) {
	var buf bytes.Buffer
	called := false

	err := WithSpinner(&buf, "Writing artifact", true, func() error {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.Contains(t, buf.String(), "✓ Writing artifact")
}

func TestWithSpinnerError(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("mender-artifact exited with status 1")

	err := WithSpinner(&buf, "Writing artifact", true, func() error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "❌ Writing artifact failed")
}

func TestSpinnerDefaultInterval(t *testing.T) {
	spinner := NewSpinner(&bytes.Buffer{}, SpinnerOptions{})
	assert.Equal(t, 100*time.Millisecond, spinner.interval)
}
