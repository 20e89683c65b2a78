package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hatlonely/facetx/aggregation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

const requestYAML = `
by_tag:
  terms:
    field: tag
    size: 1
  aggs:
    avg_price:
      avg:
        field: price
price_stats:
  stats:
    field: price
`

const intermediateJSON = `{
  "buckets": {
    "by_tag": {
      "terms": {
        "entries": {
          "a": {"doc_count": 3, "sub_aggregation": {"metrics": {"avg_price": {"avg": {"sum": 30, "count": 3}}}}},
          "b": {"doc_count": 1, "sub_aggregation": {"metrics": {"avg_price": {"avg": {"sum": 5, "count": 1}}}}}
        },
        "sum_other_doc_count": 0,
        "doc_count_error_upper_bound": 0
      }
    }
  },
  "metrics": {
    "price_stats": {"stats": {"count": 4, "sum": 35, "min": 5, "max": 10}}
  }
}`

func writeFile(t *testing.T, dir string, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	app.ErrWriter = &bytes.Buffer{}
	err := app.Run(context.Background(), append([]string{name}, args...))
	return buf.String(), err
}

func TestFinalizeCmd(t *testing.T) {
	dir := t.TempDir()
	reqPath := writeFile(t, dir, "req.yaml", []byte(requestYAML))
	inputPath := writeFile(t, dir, "segment.json", []byte(intermediateJSON))

	t.Run("json 输出到 stdout", func(t *testing.T) {
		out, err := runApp(t, "finalize", "--request", reqPath, "--input", inputPath)
		require.NoError(t, err)

		var result map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &result))

		byTag := result["by_tag"].(map[string]any)
		buckets := byTag["buckets"].([]any)
		require.Len(t, buckets, 1)
		bucket := buckets[0].(map[string]any)
		assert.Equal(t, "a", bucket["key"])
		assert.Equal(t, float64(3), bucket["doc_count"])
		assert.Equal(t, map[string]any{"value": float64(10)}, bucket["avg_price"])
		assert.Equal(t, float64(1), byTag["sum_other_doc_count"])

		stats := result["price_stats"].(map[string]any)
		assert.Equal(t, float64(4), stats["count"])
		assert.Equal(t, float64(5), stats["min"])
		assert.Equal(t, float64(10), stats["max"])
		assert.Equal(t, 8.75, stats["avg"])
	})

	t.Run("多个输入逐行输出", func(t *testing.T) {
		outPath := filepath.Join(dir, "out.jsonl")
		_, err := runApp(t, "finalize", "-r", reqPath, "-i", inputPath, "-i", inputPath, "-o", outPath)
		require.NoError(t, err)

		buf, err := os.ReadFile(outPath)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(buf)), "\n")
		require.Len(t, lines, 2)
		assert.Equal(t, lines[0], lines[1])
	})

	t.Run("msgpack 输入与输出", func(t *testing.T) {
		var intermediate aggregation.IntermediateAggregationResults
		require.NoError(t, json.Unmarshal([]byte(intermediateJSON), &intermediate))
		data, err := msgpack.Marshal(&intermediate)
		require.NoError(t, err)
		mpPath := writeFile(t, dir, "segment.msgpack", data)

		out, err := runApp(t, "finalize", "-r", reqPath, "-i", mpPath, "--format", "msgpack")
		require.NoError(t, err)

		var result aggregation.AggregationResults
		require.NoError(t, msgpack.Unmarshal([]byte(out), &result))
		require.Contains(t, result, "price_stats")
		stats, ok := result["price_stats"].(*aggregation.StatsResult)
		require.True(t, ok)
		assert.Equal(t, uint64(4), stats.Count)
		assert.Equal(t, 8.75, *stats.Avg)
	})

	t.Run("配置文件", func(t *testing.T) {
		cfgPath := writeFile(t, dir, "app.yaml", []byte(`
concurrency: 2
serializer:
  format: json
finalizer:
  name: facetx_cli_test
  enableLogging: true
  logger:
    namespace: github.com/hatlonely/facetx/log/logger
    type: SLog
    options:
      level: error
`))
		out, err := runApp(t, "finalize", "-r", reqPath, "-i", inputPath, "-c", cfgPath)
		require.NoError(t, err)
		assert.Contains(t, out, `"price_stats"`)
	})

	t.Run("多个输入要求 json 输出", func(t *testing.T) {
		_, err := runApp(t, "finalize", "-r", reqPath, "-i", inputPath, "-i", inputPath, "-f", "bson")
		assert.ErrorContains(t, err, "multiple inputs require json output")
	})

	t.Run("请求与中间结果不一致", func(t *testing.T) {
		badReq := writeFile(t, dir, "bad.json", []byte(`{"price_stats": {"avg": {"field": "price"}}}`))
		_, err := runApp(t, "finalize", "-r", badReq, "-i", inputPath)
		assert.ErrorIs(t, err, aggregation.ErrInternal)
	})

	t.Run("非法请求", func(t *testing.T) {
		badReq := writeFile(t, dir, "invalid.json", []byte(`{"h": {"histogram": {"field": "price", "interval": 0}}}`))
		_, err := runApp(t, "finalize", "-r", badReq, "-i", inputPath)
		assert.ErrorContains(t, err, "invalid request")
	})

	t.Run("不支持的扩展名", func(t *testing.T) {
		_, err := runApp(t, "finalize", "-r", reqPath, "-i", filepath.Join(dir, "segment.csv"))
		assert.ErrorContains(t, err, "unsupported input file extension")

		_, err = runApp(t, "finalize", "-r", filepath.Join(dir, "req.txt"), "-i", inputPath)
		assert.ErrorContains(t, err, "unsupported request file extension")
	})

	t.Run("缺少必填参数", func(t *testing.T) {
		_, err := runApp(t, "finalize", "-i", inputPath)
		assert.Error(t, err)
	})
}
