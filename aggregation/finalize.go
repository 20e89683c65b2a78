package aggregation

import (
	"context"

	"github.com/hatlonely/facetx/ref"
	"github.com/pkg/errors"
)

func init() {
	ref.MustRegister(Namespace, "DefaultHistogramFiller", NewDefaultHistogramFillerWithOptions)
	ref.MustRegister(Namespace, "DefaultTermsSelector", NewDefaultTermsSelector)
	ref.MustRegister(Namespace, "Engine", NewEngineWithOptions)
	ref.MustRegister(Namespace, "ObservableFinalizer", NewObservableFinalizerWithOptions)
}

// Finalizer 将中间结果按请求转换为最终结果
type Finalizer interface {
	Finalize(ctx context.Context, intermediate *IntermediateAggregationResults, req *Aggregations) (AggregationResults, error)
}

type EngineOptions struct {
	// 直方图补桶，默认 DefaultHistogramFiller
	HistogramFiller *ref.TypeOptions `cfg:"histogramFiller"`

	// 词条 top-N 选择，默认 DefaultTermsSelector
	TermsSelector *ref.TypeOptions `cfg:"termsSelector"`
}

// Engine 结果转换引擎，构造后不可变，可并发使用
type Engine struct {
	histogramFiller HistogramFiller
	termsSelector   TermsSelector
}

var defaultEngine = &Engine{
	histogramFiller: &DefaultHistogramFiller{maxBuckets: defaultMaxBuckets},
	termsSelector:   &DefaultTermsSelector{},
}

func NewEngineWithOptions(options *EngineOptions) (*Engine, error) {
	engine := &Engine{
		histogramFiller: defaultEngine.histogramFiller,
		termsSelector:   defaultEngine.termsSelector,
	}
	if options == nil {
		return engine, nil
	}

	if options.HistogramFiller != nil && options.HistogramFiller.Type != "" {
		filler, err := ref.NewT[HistogramFiller](options.HistogramFiller)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to create histogram filler")
		}
		engine.histogramFiller = filler
	}

	if options.TermsSelector != nil && options.TermsSelector.Type != "" {
		selector, err := ref.NewT[TermsSelector](options.TermsSelector)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to create terms selector")
		}
		engine.termsSelector = selector
	}

	return engine, nil
}

// FinalizeWithRequest 使用默认引擎转换中间结果
func FinalizeWithRequest(intermediate *IntermediateAggregationResults, req *Aggregations) (AggregationResults, error) {
	return defaultEngine.finalize(intermediate, req)
}

// Finalize 纯计算，不检查 ctx
func (e *Engine) Finalize(ctx context.Context, intermediate *IntermediateAggregationResults, req *Aggregations) (AggregationResults, error) {
	return e.finalize(intermediate, req)
}

// finalize 桶结果按位置与请求配对，指标结果按名字与请求配对
// 某类中间结果整体缺失时，按请求构造该类的空结果
func (e *Engine) finalize(intermediate *IntermediateAggregationResults, req *Aggregations) (AggregationResults, error) {
	if req == nil {
		req = &Aggregations{}
	}

	var buckets *NamedList[*IntermediateBucketResult]
	var metrics *NamedList[*IntermediateMetricResult]
	if intermediate != nil {
		buckets, metrics = intermediate.Buckets, intermediate.Metrics
	}

	results := make(AggregationResults, req.Len())

	if buckets != nil {
		if buckets.Len() != req.Buckets.Len() {
			return nil, internalError("got %d intermediate bucket aggregations, request has %d", buckets.Len(), req.Buckets.Len())
		}
		for i, item := range *buckets {
			decl := req.Buckets[i]
			if item.Name != decl.Name {
				return nil, internalError("intermediate bucket aggregation %q at position %d, request has %q", item.Name, i, decl.Name)
			}
			result, err := e.finalizeBucket(item.Name, item.Value, decl.Value)
			if err != nil {
				return nil, err
			}
			results[item.Name] = result
		}
	} else {
		for _, decl := range req.Buckets {
			result, err := e.emptyBucket(decl.Name, decl.Value)
			if err != nil {
				return nil, err
			}
			results[decl.Name] = result
		}
	}

	if metrics != nil {
		for _, item := range *metrics {
			decl, _ := req.Metrics.Get(item.Name)
			result, err := finalizeMetric(item.Name, item.Value, decl)
			if err != nil {
				return nil, err
			}
			results[item.Name] = result
		}
	} else {
		for _, decl := range req.Metrics {
			result, err := emptyMetric(decl.Name, decl.Value)
			if err != nil {
				return nil, err
			}
			results[decl.Name] = result
		}
	}

	return results, nil
}

func (e *Engine) finalizeBucket(name string, intermediate *IntermediateBucketResult, req *BucketAggregation) (BucketResult, error) {
	if intermediate.Type() != req.Type() {
		return nil, internalError("bucket aggregation %q: intermediate %q does not match request %q", name, intermediate.Type(), req.Type())
	}

	switch req.Type() {
	case AggTypeRange:
		return e.finalizeRange(name, intermediate.Range, req)
	case AggTypeHistogram:
		return e.finalizeHistogram(name, intermediate.Histogram, req)
	case AggTypeTerms:
		return e.finalizeTerms(name, intermediate.Terms, req)
	}
	return nil, internalError("bucket aggregation %q has no kind", name)
}

func (e *Engine) emptyBucket(name string, req *BucketAggregation) (BucketResult, error) {
	switch req.Type() {
	case AggTypeRange:
		return e.emptyRange(name, req)
	case AggTypeHistogram:
		return e.finalizeHistogram(name, &IntermediateHistogramBucketResult{}, req)
	case AggTypeTerms:
		return &TermsResult{Buckets: []*BucketEntry{}}, nil
	}
	return nil, internalError("bucket aggregation %q has no kind", name)
}
