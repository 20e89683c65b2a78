package aggregation

import (
	"math"
	"sort"

	"github.com/hatlonely/facetx/cfg"
	"github.com/pkg/errors"
)

// HistogramFiller 直方图补桶，返回按 key 升序的桶列表
type HistogramFiller interface {
	FillHistogram(buckets []*IntermediateHistogramBucketEntry, req *HistogramAggregation) ([]*IntermediateHistogramBucketEntry, error)
}

const defaultMaxBuckets = 65000

type DefaultHistogramFillerOptions struct {
	// 补桶后的最大桶数，0 表示不限制
	MaxBuckets int `cfg:"maxBuckets" def:"65000" validate:"gte=0"`
}

// DefaultHistogramFiller MinDocCount 为 0 时补齐首尾之间的空桶并按 ExtendedBounds 扩展、按 HardBounds 裁剪，
// 大于 0 时只保留 doc_count 达到阈值的桶
type DefaultHistogramFiller struct {
	maxBuckets int
}

func NewDefaultHistogramFillerWithOptions(options *DefaultHistogramFillerOptions) (*DefaultHistogramFiller, error) {
	if options == nil {
		options = &DefaultHistogramFillerOptions{}
		if err := cfg.SetDefaults(options); err != nil {
			return nil, errors.Wrap(err, "set default options failed")
		}
	}
	if err := cfg.Validate(options); err != nil {
		return nil, errors.WithMessage(err, "invalid histogram filler options")
	}

	return &DefaultHistogramFiller{maxBuckets: options.MaxBuckets}, nil
}

func (f *DefaultHistogramFiller) FillHistogram(buckets []*IntermediateHistogramBucketEntry, req *HistogramAggregation) ([]*IntermediateHistogramBucketEntry, error) {
	if req.Interval <= 0 || math.IsNaN(req.Interval) {
		return nil, errors.Errorf("histogram interval must be positive, got %v", req.Interval)
	}

	sorted := make([]*IntermediateHistogramBucketEntry, 0, len(buckets))
	for _, bucket := range buckets {
		if req.MinDocCount > 0 && bucket.DocCount < req.MinDocCount {
			continue
		}
		if req.HardBounds != nil && !inHardBounds(bucket.Key, req) {
			continue
		}
		sorted = append(sorted, bucket)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Key < sorted[j].Key
	})

	if req.MinDocCount > 0 {
		return sorted, nil
	}

	first, last, ok := fillRange(sorted, req)
	if !ok {
		return sorted, nil
	}

	limit := float64(f.maxBuckets)
	if f.maxBuckets == 0 {
		limit = maxFillBuckets
	}
	if span := last - first + 1; !(span <= limit) {
		return nil, errors.Errorf("histogram would produce %v buckets, exceeds limit %v", span, limit)
	}
	if math.Abs(first) > maxExactPos || math.Abs(last) > maxExactPos {
		return nil, errors.Errorf("histogram bounds out of range, bucket positions [%v, %v]", first, last)
	}

	// 观测到的桶按序号与补齐的序号归并，同一序号上的多个桶全部保留
	lo, hi := int64(first), int64(last)
	filled := make([]*IntermediateHistogramBucketEntry, 0, min(hi-lo+1, defaultMaxBuckets)+int64(len(sorted)))
	i := 0
	for pos := lo; pos <= hi; pos++ {
		matched := false
		for ; i < len(sorted) && int64(bucketPos(sorted[i].Key, req)) <= pos; i++ {
			filled = append(filled, sorted[i])
			matched = true
		}
		if matched {
			continue
		}
		filled = append(filled, &IntermediateHistogramBucketEntry{
			Key: float64(pos)*req.Interval + req.offset(),
		})
	}
	filled = append(filled, sorted[i:]...)

	return filled, nil
}

// fillRange 返回需要输出的桶序号区间，没有任何桶时 ok 为 false
func fillRange(sorted []*IntermediateHistogramBucketEntry, req *HistogramAggregation) (first float64, last float64, ok bool) {
	if len(sorted) > 0 {
		first, last, ok = bucketPos(sorted[0].Key, req), bucketPos(sorted[len(sorted)-1].Key, req), true
	}

	if req.ExtendedBounds != nil {
		lo, hi := bucketPos(req.ExtendedBounds.Min, req), bucketPos(req.ExtendedBounds.Max, req)
		if !ok {
			first, last, ok = lo, hi, true
		} else {
			first, last = min(first, lo), max(last, hi)
		}
	}

	if ok && req.HardBounds != nil {
		first = max(first, bucketPos(req.HardBounds.Min, req))
		last = min(last, bucketPos(req.HardBounds.Max, req))
		ok = first <= last
	}

	return first, last, ok
}

const (
	// 不限制桶数时的上限
	maxFillBuckets = math.MaxInt32
	// float64 可精确表示的最大整数
	maxExactPos = 1 << 53
	posEpsilon  = 1e-9
)

// bucketPos 桶序号 floor((v-offset)/interval)，桶的 key 为 pos*interval+offset
// 商与整数的差在 posEpsilon 以内时取该整数，key 本身由 pos*interval 算出时不会落到前一个桶
func bucketPos(v float64, req *HistogramAggregation) float64 {
	q := (v - req.offset()) / req.Interval
	if r := math.Round(q); math.Abs(q-r) <= posEpsilon*math.Max(1, math.Abs(q)) {
		return r
	}
	return math.Floor(q)
}

func inHardBounds(key float64, req *HistogramAggregation) bool {
	pos := bucketPos(key, req)
	return pos >= bucketPos(req.HardBounds.Min, req) && pos <= bucketPos(req.HardBounds.Max, req)
}

func (e *Engine) finalizeHistogram(name string, intermediate *IntermediateHistogramBucketResult, req *BucketAggregation) (*HistogramResult, error) {
	filled, err := e.histogramFiller.FillHistogram(intermediate.Buckets, req.Histogram)
	if err != nil {
		return nil, errors.WithMessagef(err, "fill histogram %q failed", name)
	}

	buckets := make([]*BucketEntry, 0, len(filled))
	for _, entry := range filled {
		sub, err := e.finalize(entry.SubAggregation, req.subAggregations())
		if err != nil {
			return nil, errors.WithMessagef(err, "histogram %q bucket %v", name, entry.Key)
		}
		buckets = append(buckets, &BucketEntry{
			Key:            F64Key(entry.Key),
			DocCount:       entry.DocCount,
			SubAggregation: sub,
		})
	}

	return &HistogramResult{Buckets: buckets}, nil
}
