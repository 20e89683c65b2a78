package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/hatlonely/facetx/log/writer"
	"github.com/hatlonely/facetx/ref"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSLogWithOptions(t *testing.T) {
	tests := []struct {
		name    string
		options *SLogOptions
		wantErr bool
	}{
		{name: "nil options", options: nil},
		{name: "json format", options: &SLogOptions{Level: "debug", Format: "json"}},
		{
			name: "file output",
			options: &SLogOptions{
				Output: &ref.TypeOptions{
					Namespace: writer.Namespace,
					Type:      "FileWriter",
					Options:   map[string]any{"path": filepath.Join(t.TempDir(), "app.log")},
				},
			},
		},
		{name: "invalid level", options: &SLogOptions{Level: "trace"}, wantErr: true},
		{name: "invalid format", options: &SLogOptions{Format: "xml"}, wantErr: true},
		{
			name: "unknown writer",
			options: &SLogOptions{
				Output: &ref.TypeOptions{Namespace: writer.Namespace, Type: "KafkaWriter"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewSLogWithOptions(tt.options)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestSLogOutput(t *testing.T) {
	var buf bytes.Buffer
	l, err := newSLog(&buf, slog.LevelInfo, &SLogOptions{
		Format: "json",
		Fields: map[string]any{"service": "facetx"},
	})
	require.NoError(t, err)

	l.Debug("dropped")
	l.With("finalize_id", "abc").WithGroup("engine").Info("finalize completed", "aggregations", 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "finalize completed", record["msg"])
	assert.Equal(t, "facetx", record["service"])
	assert.Equal(t, "abc", record["finalize_id"])
	assert.Equal(t, map[string]any{"aggregations": float64(3)}, record["engine"])
}

func TestParseLevel(t *testing.T) {
	for level, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := parseLevel(level)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
