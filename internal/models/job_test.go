package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewJobID(t *testing.T) {
	a, b := NewJobID(), NewJobID()
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.True(t, ValidJobID(a))
}

func TestValidJobID(t *testing.T) {
	assert.False(t, ValidJobID(""))
	assert.False(t, ValidJobID("abc"))
	assert.False(t, ValidJobID(NewJobID()[:63]+"z"))
	assert.True(t, ValidJobID(NewJobID()))
}

func TestTerminal(t *testing.T) {
	assert.False(t, StatusStarted.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCanceled.Terminal())
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{0, "0 Second"},
		{-5, "0 Second"},
		{1, "1 Second"},
		{59, "59 Seconds"},
		{60, "1 Minute"},
		{61, "1 Minute 1 Second"},
		{3600, "1 Hour"},
		{93784, "1 Day 2 Hours 3 Minutes 4 Seconds"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.seconds), "seconds=%d", tt.seconds)
	}
}
