package aggregation

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

const Namespace = "github.com/hatlonely/facetx/aggregation"

// AggregationType 聚合类型
type AggregationType string

const (
	AggTypeRange     AggregationType = "range"
	AggTypeHistogram AggregationType = "histogram"
	AggTypeTerms     AggregationType = "terms"
	AggTypeAvg       AggregationType = "avg"
	AggTypeStats     AggregationType = "stats"
)

// Named 带名字的元素
type Named[T any] struct {
	Name  string `json:"name" msgpack:"name" bson:"name"`
	Value T      `json:"value" msgpack:"value" bson:"value"`
}

// NamedList 有序的命名列表，顺序即请求中的声明顺序，桶结果按位置与请求配对
// JSON 编码为保持顺序的对象
type NamedList[T any] []Named[T]

func (l NamedList[T]) Len() int {
	return len(l)
}

func (l NamedList[T]) Get(name string) (T, bool) {
	for _, item := range l {
		if item.Name == name {
			return item.Value, true
		}
	}
	var zero T
	return zero, false
}

func (l NamedList[T]) Names() []string {
	names := make([]string, 0, len(l))
	for _, item := range l {
		names = append(names, item.Name)
	}
	return names
}

func (l *NamedList[T]) Add(name string, value T) {
	*l = append(*l, Named[T]{Name: name, Value: value})
}

func (l NamedList[T]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, item := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(item.Name))
		buf.WriteByte(':')
		value, err := json.Marshal(item.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal %q failed", item.Name)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (l *NamedList[T]) UnmarshalJSON(data []byte) error {
	list := NamedList[T]{}
	err := decodeOrderedObject(data, func(name string, dec *json.Decoder) error {
		var value T
		if err := dec.Decode(&value); err != nil {
			return errors.Wrapf(err, "decode %q failed", name)
		}
		list.Add(name, value)
		return nil
	})
	if err != nil {
		return err
	}
	*l = list
	return nil
}

// decodeOrderedObject 按出现顺序遍历 JSON 对象的每个字段
func decodeOrderedObject(data []byte, fn func(name string, dec *json.Decoder) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return errors.Wrap(err, "read json token failed")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.Errorf("expected json object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return errors.Wrap(err, "read json token failed")
		}
		name, ok := tok.(string)
		if !ok {
			return errors.Errorf("expected object key, got %v", tok)
		}
		if err := fn(name, dec); err != nil {
			return err
		}
	}

	if _, err := dec.Token(); err != nil {
		return errors.Wrap(err, "read json token failed")
	}
	return nil
}

// Aggregations 聚合请求，按桶聚合和指标聚合分组，各自保持声明顺序
type Aggregations struct {
	Buckets NamedList[*BucketAggregation]
	Metrics NamedList[*MetricAggregation]
}

func NewAggregations() *Aggregations {
	return &Aggregations{}
}

func (a *Aggregations) AddBucket(name string, bucket *BucketAggregation) *Aggregations {
	a.Buckets.Add(name, bucket)
	return a
}

func (a *Aggregations) AddMetric(name string, metric *MetricAggregation) *Aggregations {
	a.Metrics.Add(name, metric)
	return a
}

func (a *Aggregations) Len() int {
	if a == nil {
		return 0
	}
	return a.Buckets.Len() + a.Metrics.Len()
}

// BucketAggregation 桶聚合，Range/Histogram/Terms 有且仅有一个非空
type BucketAggregation struct {
	Range     *RangeAggregation
	Histogram *HistogramAggregation
	Terms     *TermsAggregation

	SubAggregations *Aggregations
}

func (b *BucketAggregation) Type() AggregationType {
	switch {
	case b == nil:
		return ""
	case b.Range != nil:
		return AggTypeRange
	case b.Histogram != nil:
		return AggTypeHistogram
	case b.Terms != nil:
		return AggTypeTerms
	}
	return ""
}

func (b *BucketAggregation) subAggregations() *Aggregations {
	if b.SubAggregations == nil {
		return &Aggregations{}
	}
	return b.SubAggregations
}

// MetricAggregation 指标聚合，Average/Stats 有且仅有一个非空
type MetricAggregation struct {
	Average *AverageAggregation
	Stats   *StatsAggregation
}

func (m *MetricAggregation) Type() AggregationType {
	switch {
	case m == nil:
		return ""
	case m.Average != nil:
		return AggTypeAvg
	case m.Stats != nil:
		return AggTypeStats
	}
	return ""
}

// RangeAggregation 范围聚合
type RangeAggregation struct {
	Field  string                  `json:"field" yaml:"field" validate:"required"`
	Ranges []RangeAggregationRange `json:"ranges" yaml:"ranges" validate:"required,min=1,dive"`
}

// RangeAggregationRange 左闭右开区间，From/To 为空表示无界
type RangeAggregationRange struct {
	Key  string   `json:"key,omitempty" yaml:"key"`
	From *float64 `json:"from,omitempty" yaml:"from"`
	To   *float64 `json:"to,omitempty" yaml:"to"`
}

// BucketKey 未指定 key 时生成 "from-to"，无界一侧用 "*"
func (r RangeAggregationRange) BucketKey() string {
	if r.Key != "" {
		return r.Key
	}
	return formatBound(r.From) + "-" + formatBound(r.To)
}

func formatBound(v *float64) string {
	if v == nil {
		return "*"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// HistogramBounds 直方图边界
type HistogramBounds struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max" validate:"gtefield=Min"`
}

// HistogramAggregation 直方图聚合
type HistogramAggregation struct {
	Field    string   `json:"field" yaml:"field" validate:"required"`
	Interval float64  `json:"interval" yaml:"interval" validate:"gt=0"`
	Offset   *float64 `json:"offset,omitempty" yaml:"offset"`

	// 为 0 时补齐首尾之间的空桶，大于 0 时只保留达到阈值的桶
	MinDocCount uint64 `json:"min_doc_count,omitempty" yaml:"min_doc_count"`

	// 限制桶的范围
	HardBounds *HistogramBounds `json:"hard_bounds,omitempty" yaml:"hard_bounds"`

	// MinDocCount 为 0 时，补桶范围扩展到该边界
	ExtendedBounds *HistogramBounds `json:"extended_bounds,omitempty" yaml:"extended_bounds"`
}

func (h *HistogramAggregation) offset() float64 {
	if h.Offset == nil {
		return 0
	}
	return *h.Offset
}

// Order 排序方向
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

const (
	OrderTargetCount = "_count"
	OrderTargetKey   = "_key"
)

// CustomOrder terms 排序，Target 为 _count、_key 或子聚合 "name[.property]"
type CustomOrder struct {
	Target string `validate:"required"`
	Order  Order  `validate:"oneof=asc desc"`
}

var defaultTermsOrder = CustomOrder{Target: OrderTargetCount, Order: OrderDesc}

const (
	defaultTermsSize        = 10
	defaultTermsMinDocCount = 1
)

// TermsAggregation 词条聚合
type TermsAggregation struct {
	Field string `json:"field" yaml:"field" validate:"required"`

	// 返回的桶数，默认 10
	Size *uint32 `json:"size,omitempty" yaml:"size" validate:"omitempty,gt=0"`

	// 每个分片收集的桶数，由上游收集器使用
	ShardSize *uint32 `json:"shard_size,omitempty" yaml:"shard_size" validate:"omitempty,gt=0"`

	// 默认 1
	MinDocCount *uint64 `json:"min_doc_count,omitempty" yaml:"min_doc_count"`

	// 默认在 _count desc 排序时返回
	ShowTermDocCountError *bool `json:"show_term_doc_count_error,omitempty" yaml:"show_term_doc_count_error"`

	Order *CustomOrder `json:"order,omitempty" yaml:"order"`
}

func (t *TermsAggregation) size() int {
	if t.Size == nil {
		return defaultTermsSize
	}
	return int(*t.Size)
}

func (t *TermsAggregation) minDocCount() uint64 {
	if t.MinDocCount == nil {
		return defaultTermsMinDocCount
	}
	return *t.MinDocCount
}

func (t *TermsAggregation) order() CustomOrder {
	if t.Order == nil {
		return defaultTermsOrder
	}
	return *t.Order
}

func (t *TermsAggregation) showTermDocCountError() bool {
	if t.ShowTermDocCountError != nil {
		return *t.ShowTermDocCountError
	}
	return t.order() == defaultTermsOrder
}

// AverageAggregation 平均值聚合
type AverageAggregation struct {
	Field string `json:"field" yaml:"field" validate:"required"`
}

// StatsAggregation 统计聚合，返回 count/sum/min/max/avg
type StatsAggregation struct {
	Field string `json:"field" yaml:"field" validate:"required"`
}
