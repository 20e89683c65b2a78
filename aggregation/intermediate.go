package aggregation

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"
)

// IntermediateAggregationResults 中间聚合结果，由上游收集器产生
// Buckets/Metrics 为 nil 表示该类聚合没有任何贡献
type IntermediateAggregationResults struct {
	Buckets *NamedList[*IntermediateBucketResult] `json:"buckets,omitempty" msgpack:"buckets,omitempty" bson:"buckets,omitempty"`
	Metrics *NamedList[*IntermediateMetricResult] `json:"metrics,omitempty" msgpack:"metrics,omitempty" bson:"metrics,omitempty"`
}

func NewIntermediateAggregationResults() *IntermediateAggregationResults {
	return &IntermediateAggregationResults{}
}

func (r *IntermediateAggregationResults) AddBucket(name string, bucket *IntermediateBucketResult) *IntermediateAggregationResults {
	if r.Buckets == nil {
		r.Buckets = &NamedList[*IntermediateBucketResult]{}
	}
	r.Buckets.Add(name, bucket)
	return r
}

func (r *IntermediateAggregationResults) AddMetric(name string, metric *IntermediateMetricResult) *IntermediateAggregationResults {
	if r.Metrics == nil {
		r.Metrics = &NamedList[*IntermediateMetricResult]{}
	}
	r.Metrics.Add(name, metric)
	return r
}

// IntermediateBucketResult 中间桶结果，Range/Histogram/Terms 有且仅有一个非空
type IntermediateBucketResult struct {
	Range     *IntermediateRangeBucketResult     `json:"range,omitempty" msgpack:"range,omitempty" bson:"range,omitempty"`
	Histogram *IntermediateHistogramBucketResult `json:"histogram,omitempty" msgpack:"histogram,omitempty" bson:"histogram,omitempty"`
	Terms     *IntermediateTermBucketResult      `json:"terms,omitempty" msgpack:"terms,omitempty" bson:"terms,omitempty"`
}

func (b *IntermediateBucketResult) Type() AggregationType {
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

type IntermediateRangeBucketResult struct {
	Buckets []*IntermediateRangeBucketEntry `json:"buckets" msgpack:"buckets" bson:"buckets"`
}

type IntermediateRangeBucketEntry struct {
	Key            string                          `json:"key" msgpack:"key" bson:"key"`
	DocCount       uint64                          `json:"doc_count" msgpack:"doc_count" bson:"doc_count"`
	SubAggregation *IntermediateAggregationResults `json:"sub_aggregation,omitempty" msgpack:"sub_aggregation,omitempty" bson:"sub_aggregation,omitempty"`
	From           *float64                        `json:"from,omitempty" msgpack:"from,omitempty" bson:"from,omitempty"`
	To             *float64                        `json:"to,omitempty" msgpack:"to,omitempty" bson:"to,omitempty"`
}

type IntermediateHistogramBucketResult struct {
	Buckets []*IntermediateHistogramBucketEntry `json:"buckets" msgpack:"buckets" bson:"buckets"`
}

type IntermediateHistogramBucketEntry struct {
	Key            float64                         `json:"key" msgpack:"key" bson:"key"`
	DocCount       uint64                          `json:"doc_count" msgpack:"doc_count" bson:"doc_count"`
	SubAggregation *IntermediateAggregationResults `json:"sub_aggregation,omitempty" msgpack:"sub_aggregation,omitempty" bson:"sub_aggregation,omitempty"`
}

// IntermediateTermBucketResult 词条中间结果，Entries 无序，由 TermsSelector 排序截断
type IntermediateTermBucketResult struct {
	Entries                 map[string]*IntermediateTermBucketEntry `json:"entries" msgpack:"entries" bson:"entries"`
	SumOtherDocCount        uint64                                  `json:"sum_other_doc_count" msgpack:"sum_other_doc_count" bson:"sum_other_doc_count"`
	DocCountErrorUpperBound uint64                                  `json:"doc_count_error_upper_bound" msgpack:"doc_count_error_upper_bound" bson:"doc_count_error_upper_bound"`
}

type IntermediateTermBucketEntry struct {
	DocCount       uint64                          `json:"doc_count" msgpack:"doc_count" bson:"doc_count"`
	SubAggregation *IntermediateAggregationResults `json:"sub_aggregation,omitempty" msgpack:"sub_aggregation,omitempty" bson:"sub_aggregation,omitempty"`
}

// IntermediateMetricResult 中间指标结果，Average/Stats 有且仅有一个非空
type IntermediateMetricResult struct {
	Average *IntermediateAverage `json:"avg,omitempty" msgpack:"avg,omitempty" bson:"avg,omitempty"`
	Stats   *IntermediateStats   `json:"stats,omitempty" msgpack:"stats,omitempty" bson:"stats,omitempty"`
}

func (m *IntermediateMetricResult) Type() AggregationType {
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

// IntermediateAverage 平均值累加器
type IntermediateAverage struct {
	Sum   float64 `json:"sum" msgpack:"sum" bson:"sum"`
	Count uint64  `json:"count" msgpack:"count" bson:"count"`
}

func (a *IntermediateAverage) Collect(v float64) {
	a.Sum += v
	a.Count++
}

// IntermediateStats 统计累加器，Count 为 0 时 Min/Max 为 +Inf/-Inf
type IntermediateStats struct {
	Count uint64  `json:"count" msgpack:"count" bson:"count"`
	Sum   float64 `json:"sum" msgpack:"sum" bson:"sum"`
	Min   float64 `json:"min" msgpack:"min" bson:"min"`
	Max   float64 `json:"max" msgpack:"max" bson:"max"`
}

func NewIntermediateStats() *IntermediateStats {
	return &IntermediateStats{
		Min: math.Inf(1),
		Max: math.Inf(-1),
	}
}

func (s *IntermediateStats) Collect(v float64) {
	s.Count++
	s.Sum += v
	s.Min = math.Min(s.Min, v)
	s.Max = math.Max(s.Max, v)
}

type intermediateStatsJSON struct {
	Count uint64   `json:"count"`
	Sum   float64  `json:"sum"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

// MarshalJSON JSON 无法表示无穷，Count 为 0 时省略 Min/Max
func (s IntermediateStats) MarshalJSON() ([]byte, error) {
	v := intermediateStatsJSON{Count: s.Count, Sum: s.Sum}
	if s.Count > 0 {
		v.Min, v.Max = &s.Min, &s.Max
	}
	return json.Marshal(v)
}

func (s *IntermediateStats) UnmarshalJSON(data []byte) error {
	var v intermediateStatsJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.Wrap(err, "decode stats failed")
	}

	*s = *NewIntermediateStats()
	s.Count, s.Sum = v.Count, v.Sum
	if v.Min != nil {
		s.Min = *v.Min
	}
	if v.Max != nil {
		s.Max = *v.Max
	}
	return nil
}
