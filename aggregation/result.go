package aggregation

import (
	"strconv"
)

// AggregationResults 最终聚合结果，key 为请求中的聚合名
type AggregationResults map[string]AggregationResult

// AggregationResult 最终聚合结果，只有 BucketResult 和 MetricResult 两类
type AggregationResult interface {
	aggregationResult()
}

// BucketResult 由 *RangeResult、*HistogramResult、*TermsResult 实现
type BucketResult interface {
	AggregationResult
	bucketResult()
}

// MetricResult 由 *AverageResult、*StatsResult 实现
type MetricResult interface {
	AggregationResult
	GetValue(property string) (*float64, error)
}

// GetValue 获取指标结果的属性值，name 不存在或者指向桶结果时返回 ErrInternal
func (r AggregationResults) GetValue(name string, property string) (*float64, error) {
	result, ok := r[name]
	if !ok {
		return nil, internalError("aggregation %q not found", name)
	}

	switch v := result.(type) {
	case MetricResult:
		return v.GetValue(property)
	case BucketResult:
		return nil, internalError("aggregation %q is a bucket aggregation, cannot get value", name)
	}
	return nil, internalError("aggregation %q has unknown result type %T", name, result)
}

// Key 桶的 key，字符串或数值
type Key struct {
	Str   string
	F64   float64
	IsF64 bool
}

func StrKey(s string) Key {
	return Key{Str: s}
}

func F64Key(f float64) Key {
	return Key{F64: f, IsF64: true}
}

func (k Key) String() string {
	if k.IsF64 {
		return strconv.FormatFloat(k.F64, 'f', -1, 64)
	}
	return k.Str
}

func (k Key) Value() any {
	if k.IsF64 {
		return k.F64
	}
	return k.Str
}

type BucketEntry struct {
	Key            Key
	DocCount       uint64
	SubAggregation AggregationResults
}

// RangeBucketEntry From/To 为 nil 表示无界
type RangeBucketEntry struct {
	BucketEntry

	From *float64
	To   *float64
}

type RangeResult struct {
	Buckets []*RangeBucketEntry
}

type HistogramResult struct {
	Buckets []*BucketEntry
}

type TermsResult struct {
	Buckets          []*BucketEntry
	SumOtherDocCount uint64

	// 分布式收集时 doc_count 的最大低估值，nil 表示不返回
	DocCountErrorUpperBound *uint64
}

func (*RangeResult) aggregationResult()     {}
func (*HistogramResult) aggregationResult() {}
func (*TermsResult) aggregationResult()     {}
func (*AverageResult) aggregationResult()   {}
func (*StatsResult) aggregationResult()     {}

func (*RangeResult) bucketResult()     {}
func (*HistogramResult) bucketResult() {}
func (*TermsResult) bucketResult()     {}

// AverageResult Value 为 nil 表示没有文档参与计算
type AverageResult struct {
	Value *float64
}

// GetValue 平均值只有一个值，忽略 property
func (a *AverageResult) GetValue(property string) (*float64, error) {
	return a.Value, nil
}

const (
	StatsPropertyCount = "count"
	StatsPropertySum   = "sum"
	StatsPropertyMin   = "min"
	StatsPropertyMax   = "max"
	StatsPropertyAvg   = "avg"
)

type StatsResult struct {
	Count uint64
	Sum   float64
	Min   *float64
	Max   *float64
	Avg   *float64
}

func (s *StatsResult) GetValue(property string) (*float64, error) {
	switch property {
	case StatsPropertyCount:
		v := float64(s.Count)
		return &v, nil
	case StatsPropertySum:
		v := s.Sum
		return &v, nil
	case StatsPropertyMin:
		return s.Min, nil
	case StatsPropertyMax:
		return s.Max, nil
	case StatsPropertyAvg:
		return s.Avg, nil
	}
	return nil, internalError("unknown stats property %q", property)
}
