package logger

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogrusLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogrus(&buf, "debug")
	require.NoError(t, err)

	tests := []struct {
		name     string
		fn       func()
		expected []string
	}{
		{
			name:     "Info",
			fn:       func() { l.Info("test message") },
			expected: []string{"level=info", `msg="test message"`},
		},
		{
			name:     "Warn",
			fn:       func() { l.Warn("warning message") },
			expected: []string{"level=warning", `msg="warning message"`},
		},
		{
			name:     "Error",
			fn:       func() { l.Error("error message") },
			expected: []string{"level=error", `msg="error message"`},
		},
		{
			name:     "Debug",
			fn:       func() { l.Debug("debug message") },
			expected: []string{"level=debug", `msg="debug message"`},
		},
		{
			name:     "Info with args",
			fn:       func() { l.Info("test %s=%d", "count", 42) },
			expected: []string{"level=info", `msg="test count=42"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.fn()
			got := strings.TrimSpace(buf.String())
			for _, want := range tt.expected {
				assert.Contains(t, got, want)
			}
		})
	}
}

func TestLogrusLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogrus(&buf, "")
	require.NoError(t, err)

	l.Debug("hidden")
	assert.Empty(t, buf.String())

	_, err = NewLogrus(&buf, "loud")
	assert.Error(t, err)
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogrus(&buf, "info")
	require.NoError(t, err)

	With(l, "version", 3).Info("step applied")
	assert.Contains(t, buf.String(), "version=3")

	// loggers without field support pass through untouched
	assert.Equal(t, Nop(), With(Nop(), "k", "v"))
}

func TestNewRotatingWriter(t *testing.T) {
	_, err := NewRotatingWriter(RotationConfig{})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "logs", "bridge.log")
	w, err := NewRotatingWriter(RotationConfig{File: file})
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, 10, w.MaxSize)
	assert.Equal(t, 5, w.MaxBackups)
	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.FileExists(t, file)
}
