package aggregation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hatlonely/facetx/ref"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func f64(v float64) *float64 {
	return &v
}

func u64(v uint64) *uint64 {
	return &v
}

func avgRequest(field string) *MetricAggregation {
	return &MetricAggregation{Average: &AverageAggregation{Field: field}}
}

func statsRequest(field string) *MetricAggregation {
	return &MetricAggregation{Stats: &StatsAggregation{Field: field}}
}

// mixedRequest 覆盖全部五种聚合，terms 下嵌套 avg
func mixedRequest() *Aggregations {
	return NewAggregations().
		AddBucket("price_ranges", &BucketAggregation{
			Range: &RangeAggregation{
				Field: "price",
				Ranges: []RangeAggregationRange{
					{To: f64(10)},
					{From: f64(10), To: f64(20)},
					{Key: "expensive", From: f64(20)},
				},
			},
		}).
		AddBucket("price_histogram", &BucketAggregation{
			Histogram: &HistogramAggregation{Field: "price", Interval: 10},
		}).
		AddBucket("by_tag", &BucketAggregation{
			Terms:           &TermsAggregation{Field: "tag"},
			SubAggregations: NewAggregations().AddMetric("avg_price", avgRequest("price")),
		}).
		AddMetric("avg_price", avgRequest("price")).
		AddMetric("price_stats", statsRequest("price"))
}

func TestFinalizeWithRequestEmpty(t *testing.T) {
	Convey("中间结果为空时按请求构造空结果", t, func() {
		req := mixedRequest()

		for _, intermediate := range []*IntermediateAggregationResults{nil, NewIntermediateAggregationResults()} {
			results, err := FinalizeWithRequest(intermediate, req)
			So(err, ShouldBeNil)
			So(results, ShouldHaveLength, 5)

			ranges := results["price_ranges"].(*RangeResult)
			So(ranges.Buckets, ShouldHaveLength, 3)
			So(ranges.Buckets[0].Key, ShouldResemble, StrKey("*-10"))
			So(ranges.Buckets[0].From, ShouldBeNil)
			So(ranges.Buckets[1].Key, ShouldResemble, StrKey("10-20"))
			So(ranges.Buckets[2].Key, ShouldResemble, StrKey("expensive"))
			So(ranges.Buckets[2].To, ShouldBeNil)
			for _, b := range ranges.Buckets {
				So(b.DocCount, ShouldEqual, 0)
				So(b.SubAggregation, ShouldBeEmpty)
			}

			histogram := results["price_histogram"].(*HistogramResult)
			So(histogram.Buckets, ShouldBeEmpty)

			terms := results["by_tag"].(*TermsResult)
			So(terms.Buckets, ShouldBeEmpty)
			So(terms.SumOtherDocCount, ShouldEqual, 0)
			So(terms.DocCountErrorUpperBound, ShouldBeNil)

			So(results["avg_price"].(*AverageResult).Value, ShouldBeNil)

			stats := results["price_stats"].(*StatsResult)
			So(stats.Count, ShouldEqual, 0)
			So(stats.Sum, ShouldEqual, 0)
			So(stats.Min, ShouldBeNil)
			So(stats.Max, ShouldBeNil)
			So(stats.Avg, ShouldBeNil)
		}
	})

	Convey("空的 terms 结果序列化为空桶列表且没有误差字段", t, func() {
		req := NewAggregations().AddBucket("t", &BucketAggregation{Terms: &TermsAggregation{Field: "tag"}})
		results, err := FinalizeWithRequest(NewIntermediateAggregationResults(), req)
		So(err, ShouldBeNil)

		buf, err := json.Marshal(results)
		So(err, ShouldBeNil)
		So(string(buf), ShouldEqual, `{"t":{"buckets":[],"sum_other_doc_count":0}}`)
	})

	Convey("空的 histogram 按 extended_bounds 补桶", t, func() {
		req := NewAggregations().AddBucket("h", &BucketAggregation{
			Histogram: &HistogramAggregation{
				Field:          "price",
				Interval:       5,
				ExtendedBounds: &HistogramBounds{Min: 0, Max: 12},
			},
			SubAggregations: NewAggregations().AddMetric("s", statsRequest("price")),
		})
		results, err := FinalizeWithRequest(nil, req)
		So(err, ShouldBeNil)

		histogram := results["h"].(*HistogramResult)
		So(histogram.Buckets, ShouldHaveLength, 3)
		So(histogram.Buckets[0].Key, ShouldResemble, F64Key(0))
		So(histogram.Buckets[2].Key, ShouldResemble, F64Key(10))
		for _, b := range histogram.Buckets {
			So(b.DocCount, ShouldEqual, 0)
			So(b.SubAggregation["s"].(*StatsResult).Count, ShouldEqual, 0)
		}
	})
}

func TestFinalizeWithRequestMetrics(t *testing.T) {
	Convey("指标按名字转换", t, func() {
		req := NewAggregations().AddMetric("avg_price", avgRequest("price")).AddMetric("price_stats", statsRequest("price"))

		stats := NewIntermediateStats()
		for _, v := range []float64{3, 1, 2} {
			stats.Collect(v)
		}
		intermediate := NewIntermediateAggregationResults().
			AddMetric("price_stats", &IntermediateMetricResult{Stats: stats}).
			AddMetric("avg_price", &IntermediateMetricResult{Average: &IntermediateAverage{Sum: 10, Count: 4}})

		results, err := FinalizeWithRequest(intermediate, req)
		So(err, ShouldBeNil)
		So(*results["avg_price"].(*AverageResult).Value, ShouldEqual, 2.5)

		s := results["price_stats"].(*StatsResult)
		So(s.Count, ShouldEqual, 3)
		So(s.Sum, ShouldEqual, 6)
		So(*s.Min, ShouldEqual, 1)
		So(*s.Max, ShouldEqual, 3)
		So(*s.Avg, ShouldEqual, 2)
	})

	Convey("指标类型与请求不一致时返回内部错误", t, func() {
		req := NewAggregations().AddMetric("m", avgRequest("price"))
		intermediate := NewIntermediateAggregationResults().AddMetric("m", &IntermediateMetricResult{Stats: NewIntermediateStats()})

		results, err := FinalizeWithRequest(intermediate, req)
		So(errors.Is(err, ErrInternal), ShouldBeTrue)
		So(results, ShouldBeNil)
	})

	Convey("请求中没有的指标返回内部错误", t, func() {
		req := NewAggregations().AddMetric("m", avgRequest("price"))
		intermediate := NewIntermediateAggregationResults().AddMetric("other", &IntermediateMetricResult{Average: &IntermediateAverage{}})

		_, err := FinalizeWithRequest(intermediate, req)
		So(errors.Is(err, ErrInternal), ShouldBeTrue)
	})
}

func TestFinalizeWithRequestBuckets(t *testing.T) {
	Convey("terms 嵌套 avg 递归转换", t, func() {
		req := NewAggregations().AddBucket("by_tag", &BucketAggregation{
			Terms:           &TermsAggregation{Field: "tag"},
			SubAggregations: NewAggregations().AddMetric("avg_price", avgRequest("price")),
		})
		intermediate := NewIntermediateAggregationResults().AddBucket("by_tag", &IntermediateBucketResult{
			Terms: &IntermediateTermBucketResult{
				Entries: map[string]*IntermediateTermBucketEntry{
					"a": {
						DocCount: 3,
						SubAggregation: NewIntermediateAggregationResults().
							AddMetric("avg_price", &IntermediateMetricResult{Average: &IntermediateAverage{Sum: 6, Count: 3}}),
					},
				},
			},
		})

		results, err := FinalizeWithRequest(intermediate, req)
		So(err, ShouldBeNil)

		terms := results["by_tag"].(*TermsResult)
		So(terms.Buckets, ShouldHaveLength, 1)
		So(terms.Buckets[0].Key, ShouldResemble, StrKey("a"))
		So(terms.Buckets[0].DocCount, ShouldEqual, 3)
		So(terms.Buckets[0].SubAggregation, ShouldHaveLength, 1)
		So(*terms.Buckets[0].SubAggregation["avg_price"].(*AverageResult).Value, ShouldEqual, 2.0)
		So(*terms.DocCountErrorUpperBound, ShouldEqual, 0)
	})

	Convey("range 按 from 升序，缺失的 from 排在最前", t, func() {
		req := NewAggregations().AddBucket("r", &BucketAggregation{
			Range: &RangeAggregation{Field: "price", Ranges: []RangeAggregationRange{{To: f64(10)}, {From: f64(10), To: f64(20)}, {From: f64(20)}}},
		})
		intermediate := NewIntermediateAggregationResults().AddBucket("r", &IntermediateBucketResult{
			Range: &IntermediateRangeBucketResult{Buckets: []*IntermediateRangeBucketEntry{
				{Key: "20-*", DocCount: 1, From: f64(20)},
				{Key: "*-10", DocCount: 2, To: f64(10)},
				{Key: "10-20", DocCount: 3, From: f64(10), To: f64(20)},
			}},
		})

		results, err := FinalizeWithRequest(intermediate, req)
		So(err, ShouldBeNil)

		buckets := results["r"].(*RangeResult).Buckets
		So(buckets, ShouldHaveLength, 3)
		So(buckets[0].From, ShouldBeNil)
		So(*buckets[1].From, ShouldEqual, 10)
		So(*buckets[2].From, ShouldEqual, 20)
		So(buckets[0].DocCount, ShouldEqual, 2)
	})

	Convey("histogram 在首尾之间补桶，子聚合按请求构造空结果", t, func() {
		req := NewAggregations().AddBucket("h", &BucketAggregation{
			Histogram:       &HistogramAggregation{Field: "price", Interval: 10},
			SubAggregations: NewAggregations().AddMetric("avg_price", avgRequest("price")),
		})
		intermediate := NewIntermediateAggregationResults().AddBucket("h", &IntermediateBucketResult{
			Histogram: &IntermediateHistogramBucketResult{Buckets: []*IntermediateHistogramBucketEntry{
				{Key: 30, DocCount: 1, SubAggregation: NewIntermediateAggregationResults().
					AddMetric("avg_price", &IntermediateMetricResult{Average: &IntermediateAverage{Sum: 35, Count: 1}})},
				{Key: 0, DocCount: 2, SubAggregation: NewIntermediateAggregationResults().
					AddMetric("avg_price", &IntermediateMetricResult{Average: &IntermediateAverage{Sum: 8, Count: 2}})},
			}},
		})

		results, err := FinalizeWithRequest(intermediate, req)
		So(err, ShouldBeNil)

		buckets := results["h"].(*HistogramResult).Buckets
		So(buckets, ShouldHaveLength, 4)
		for i, key := range []float64{0, 10, 20, 30} {
			So(buckets[i].Key, ShouldResemble, F64Key(key))
		}
		So(*buckets[0].SubAggregation["avg_price"].(*AverageResult).Value, ShouldEqual, 4)
		So(buckets[1].DocCount, ShouldEqual, 0)
		So(buckets[1].SubAggregation["avg_price"].(*AverageResult).Value, ShouldBeNil)
		So(*buckets[3].SubAggregation["avg_price"].(*AverageResult).Value, ShouldEqual, 35)
	})

	Convey("桶个数与请求不一致时返回内部错误且没有部分结果", t, func() {
		req := NewAggregations().
			AddBucket("a", &BucketAggregation{Terms: &TermsAggregation{Field: "a"}}).
			AddBucket("b", &BucketAggregation{Terms: &TermsAggregation{Field: "b"}})
		intermediate := NewIntermediateAggregationResults().
			AddBucket("a", &IntermediateBucketResult{Terms: &IntermediateTermBucketResult{}})

		results, err := FinalizeWithRequest(intermediate, req)
		So(errors.Is(err, ErrInternal), ShouldBeTrue)
		So(results, ShouldBeNil)
	})

	Convey("子聚合桶个数不一致时同样返回内部错误", t, func() {
		req := NewAggregations().AddBucket("r", &BucketAggregation{
			Range:           &RangeAggregation{Field: "price", Ranges: []RangeAggregationRange{{To: f64(10)}}},
			SubAggregations: NewAggregations().AddBucket("t", &BucketAggregation{Terms: &TermsAggregation{Field: "tag"}}),
		})
		intermediate := NewIntermediateAggregationResults().AddBucket("r", &IntermediateBucketResult{
			Range: &IntermediateRangeBucketResult{Buckets: []*IntermediateRangeBucketEntry{
				{Key: "*-10", To: f64(10), SubAggregation: &IntermediateAggregationResults{Buckets: &NamedList[*IntermediateBucketResult]{}}},
			}},
		})

		results, err := FinalizeWithRequest(intermediate, req)
		So(errors.Is(err, ErrInternal), ShouldBeTrue)
		So(results, ShouldBeNil)
	})

	Convey("桶类型与请求不一致时返回内部错误", t, func() {
		req := NewAggregations().AddBucket("a", &BucketAggregation{Terms: &TermsAggregation{Field: "a"}})
		intermediate := NewIntermediateAggregationResults().
			AddBucket("a", &IntermediateBucketResult{Histogram: &IntermediateHistogramBucketResult{}})

		_, err := FinalizeWithRequest(intermediate, req)
		So(errors.Is(err, ErrInternal), ShouldBeTrue)
	})

	Convey("桶名字与请求位置不一致时返回内部错误", t, func() {
		req := NewAggregations().AddBucket("a", &BucketAggregation{Terms: &TermsAggregation{Field: "a"}})
		intermediate := NewIntermediateAggregationResults().
			AddBucket("b", &IntermediateBucketResult{Terms: &IntermediateTermBucketResult{}})

		_, err := FinalizeWithRequest(intermediate, req)
		So(errors.Is(err, ErrInternal), ShouldBeTrue)
	})

	Convey("请求中的桶聚合没有类型时返回内部错误", t, func() {
		req := NewAggregations().AddBucket("a", &BucketAggregation{})
		_, err := FinalizeWithRequest(nil, req)
		So(errors.Is(err, ErrInternal), ShouldBeTrue)
	})
}

func TestAggregationResultsGetValue(t *testing.T) {
	Convey("GetValue", t, func() {
		results := AggregationResults{
			"avg":   &AverageResult{Value: f64(2.5)},
			"empty": &AverageResult{},
			"stats": (&IntermediateStats{Count: 2, Sum: 3, Min: 1, Max: 2}).Finalize(),
			"terms": &TermsResult{},
		}

		Convey("平均值忽略属性名", func() {
			v, err := results.GetValue("avg", "")
			So(err, ShouldBeNil)
			So(*v, ShouldEqual, 2.5)

			v, err = results.GetValue("empty", "value")
			So(err, ShouldBeNil)
			So(v, ShouldBeNil)
		})

		Convey("统计按属性名取值", func() {
			for property, expected := range map[string]float64{"count": 2, "sum": 3, "min": 1, "max": 2, "avg": 1.5} {
				v, err := results.GetValue("stats", property)
				So(err, ShouldBeNil)
				So(*v, ShouldEqual, expected)
			}

			_, err := results.GetValue("stats", "median")
			So(errors.Is(err, ErrInternal), ShouldBeTrue)
		})

		Convey("名字不存在返回内部错误", func() {
			_, err := results.GetValue("missing", "")
			So(errors.Is(err, ErrInternal), ShouldBeTrue)
		})

		Convey("对桶结果取值返回内部错误", func() {
			v, err := results.GetValue("terms", "")
			So(errors.Is(err, ErrInternal), ShouldBeTrue)
			So(v, ShouldBeNil)
		})
	})
}

type reverseTermsSelector struct{}

func newReverseTermsSelector() TermsSelector {
	return reverseTermsSelector{}
}

func (reverseTermsSelector) SelectTerms(terms *IntermediateTermBucketResult, req *TermsAggregation, finalizeSub SubFinalizer) (*TermsResult, error) {
	return &TermsResult{Buckets: []*BucketEntry{{Key: StrKey("custom")}}}, nil
}

func TestNewEngineWithOptions(t *testing.T) {
	Convey("NewEngineWithOptions", t, func() {
		Convey("options 为 nil 时使用默认实现", func() {
			engine, err := NewEngineWithOptions(nil)
			So(err, ShouldBeNil)
			So(engine.histogramFiller, ShouldHaveSameTypeAs, &DefaultHistogramFiller{})
			So(engine.termsSelector, ShouldHaveSameTypeAs, &DefaultTermsSelector{})
		})

		Convey("通过 ref 创建补桶和选择实现", func() {
			engine, err := NewEngineWithOptions(&EngineOptions{
				HistogramFiller: &ref.TypeOptions{
					Namespace: Namespace,
					Type:      "DefaultHistogramFiller",
					Options:   map[string]interface{}{"maxBuckets": 3},
				},
				TermsSelector: &ref.TypeOptions{Namespace: Namespace, Type: "DefaultTermsSelector"},
			})
			So(err, ShouldBeNil)
			So(engine.histogramFiller.(*DefaultHistogramFiller).maxBuckets, ShouldEqual, 3)

			req := NewAggregations().AddBucket("h", &BucketAggregation{
				Histogram: &HistogramAggregation{Field: "price", Interval: 1, ExtendedBounds: &HistogramBounds{Min: 0, Max: 10}},
			})
			_, err = engine.Finalize(context.Background(), nil, req)
			So(err, ShouldNotBeNil)
			So(errors.Is(err, ErrInternal), ShouldBeFalse)
		})

		Convey("使用自定义的 TermsSelector", func() {
			ref.MustRegister(Namespace+"/test", "ReverseTermsSelector", newReverseTermsSelector)
			engine, err := NewEngineWithOptions(&EngineOptions{
				TermsSelector: &ref.TypeOptions{Namespace: Namespace + "/test", Type: "ReverseTermsSelector"},
			})
			So(err, ShouldBeNil)

			req := NewAggregations().AddBucket("t", &BucketAggregation{Terms: &TermsAggregation{Field: "tag"}})
			intermediate := NewIntermediateAggregationResults().AddBucket("t", &IntermediateBucketResult{Terms: &IntermediateTermBucketResult{}})
			results, err := engine.Finalize(context.Background(), intermediate, req)
			So(err, ShouldBeNil)
			So(results["t"].(*TermsResult).Buckets[0].Key, ShouldResemble, StrKey("custom"))
		})

		Convey("类型未注册时返回错误", func() {
			_, err := NewEngineWithOptions(&EngineOptions{
				HistogramFiller: &ref.TypeOptions{Namespace: Namespace, Type: "NotExists"},
			})
			So(err, ShouldNotBeNil)
		})

		Convey("类型不匹配时返回错误", func() {
			_, err := NewEngineWithOptions(&EngineOptions{
				HistogramFiller: &ref.TypeOptions{Namespace: Namespace, Type: "DefaultTermsSelector"},
			})
			So(err, ShouldNotBeNil)
		})
	})
}
