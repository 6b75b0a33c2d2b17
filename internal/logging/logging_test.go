package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Salocin01/DBWappizyToSmartDiet/internal/config"
)

func TestRedactor(t *testing.T) {
	r := NewRedactor([]string{"hunter2", "s3cret"})

	assert.Equal(t, "password=[redacted] ok", r.Redact("password=hunter2 ok"))
	assert.Equal(t, "[redacted] and [redacted]", r.Redact("hunter2 and s3cret"))
	assert.Equal(t, "nothing here", r.Redact("nothing here"))
}

func TestRedactor_EmptySecretIgnored(t *testing.T) {
	r := NewRedactor([]string{""})
	assert.Equal(t, "untouched", r.Redact("untouched"))
}

func TestRedactor_NilIsSafe(t *testing.T) {
	var r *Redactor
	assert.Equal(t, "untouched", r.Redact("untouched"))
}

func TestNewLogger(t *testing.T) {
	logger := New(config.LoggingConfig{Level: "debug", Format: "text"})
	assert.NotNil(t, logger)

	logger = New(config.LoggingConfig{Level: "warn", Format: "json"})
	assert.NotNil(t, logger)
}
