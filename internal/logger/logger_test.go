package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSetLevel(t *testing.T) {
	logger := New()
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	SetLevel(logger, "debug")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	SetLevel(logger, "not-a-level")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel(), "unknown name keeps current level")

	SetLevel(logger, "")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel(), "empty name keeps current level")

	SetLevel(logger, "warn")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}
