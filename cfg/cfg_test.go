package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type writerOptions struct {
	Target string `cfg:"target" def:"stderr"`
}

type testOptions struct {
	Name        string         `cfg:"name" def:"facetx"`
	Concurrency int            `cfg:"concurrency" def:"4" validate:"gte=1"`
	Timeout     time.Duration  `cfg:"timeout" def:"5s"`
	Formats     []string       `cfg:"formats" def:"json,msgpack"`
	Writer      writerOptions  `cfg:"writer"`
	Extra       *writerOptions `cfg:"extra"`
	Metrics     bool           `cfg:"metrics"`
}

func TestUnmarshal(t *testing.T) {
	inputs := map[Format]string{
		FormatYAML: "name: engine\nconcurrency: 8\nwriter:\n  target: stdout\nmetrics: true\n",
		FormatJSON: `{"name": "engine", "concurrency": 8, "writer": {"target": "stdout"}, "metrics": true}`,
		FormatTOML: "name = \"engine\"\nconcurrency = 8\nmetrics = true\n[writer]\ntarget = \"stdout\"\n",
		FormatINI:  "name = engine\nconcurrency = 8\nmetrics = true\n[writer]\ntarget = stdout\n",
	}

	for format, input := range inputs {
		t.Run(string(format), func(t *testing.T) {
			var options testOptions
			require.NoError(t, Unmarshal([]byte(input), format, &options))
			assert.Equal(t, "engine", options.Name)
			assert.Equal(t, 8, options.Concurrency)
			assert.Equal(t, "stdout", options.Writer.Target)
			assert.True(t, options.Metrics)
			assert.Equal(t, 5*time.Second, options.Timeout)
			assert.Equal(t, []string{"json", "msgpack"}, options.Formats)
			assert.Nil(t, options.Extra)
		})
	}
}

func TestUnmarshalValidation(t *testing.T) {
	var options testOptions
	err := Unmarshal([]byte("concurrency: -1\n"), FormatYAML, &options)
	assert.Error(t, err)

	err = Unmarshal([]byte("name: ["), FormatYAML, &options)
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "facetx.yaml")
	require.NoError(t, os.WriteFile(path, []byte("extra:\n  target: stdout\n"), 0644))

	var options testOptions
	require.NoError(t, Load(path, &options))
	assert.Equal(t, "facetx", options.Name)
	assert.Equal(t, 4, options.Concurrency)
	assert.Equal(t, "stderr", options.Writer.Target)
	require.NotNil(t, options.Extra)
	assert.Equal(t, "stdout", options.Extra.Target)

	assert.Error(t, Load(filepath.Join(dir, "facetx.xml"), &options))
	assert.Error(t, Load(filepath.Join(dir, "missing.yaml"), &options))
}

func TestDecodeININestedSections(t *testing.T) {
	tree, err := decode([]byte("[finalizer.logger]\ntype = SLog\n"), FormatINI)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"finalizer": map[string]interface{}{
			"logger": map[string]interface{}{"type": "SLog"},
		},
	}, tree)
}
