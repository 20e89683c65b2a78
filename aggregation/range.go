package aggregation

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

func (e *Engine) finalizeRange(name string, intermediate *IntermediateRangeBucketResult, req *BucketAggregation) (*RangeResult, error) {
	buckets := make([]*RangeBucketEntry, 0, len(intermediate.Buckets))
	for _, entry := range intermediate.Buckets {
		sub, err := e.finalize(entry.SubAggregation, req.subAggregations())
		if err != nil {
			return nil, errors.WithMessagef(err, "range %q bucket %q", name, entry.Key)
		}
		buckets = append(buckets, &RangeBucketEntry{
			BucketEntry: BucketEntry{
				Key:            StrKey(entry.Key),
				DocCount:       entry.DocCount,
				SubAggregation: sub,
			},
			From: entry.From,
			To:   entry.To,
		})
	}

	sortRangeBuckets(buckets)
	return &RangeResult{Buckets: buckets}, nil
}

// emptyRange 每个请求的区间一个 doc_count 为 0 的桶
func (e *Engine) emptyRange(name string, req *BucketAggregation) (*RangeResult, error) {
	buckets := make([]*RangeBucketEntry, 0, len(req.Range.Ranges))
	for _, r := range req.Range.Ranges {
		sub, err := e.finalize(nil, req.subAggregations())
		if err != nil {
			return nil, errors.WithMessagef(err, "range %q bucket %q", name, r.BucketKey())
		}
		buckets = append(buckets, &RangeBucketEntry{
			BucketEntry: BucketEntry{
				Key:            StrKey(r.BucketKey()),
				SubAggregation: sub,
			},
			From: r.From,
			To:   r.To,
		})
	}

	sortRangeBuckets(buckets)
	return &RangeResult{Buckets: buckets}, nil
}

// sortRangeBuckets 按 from 升序稳定排序，from 为空时按最小值比较
// 无法比较的值（NaN）视为相等
func sortRangeBuckets(buckets []*RangeBucketEntry) {
	sort.SliceStable(buckets, func(i, j int) bool {
		return rangeFrom(buckets[i]) < rangeFrom(buckets[j])
	})
}

func rangeFrom(entry *RangeBucketEntry) float64 {
	if entry.From == nil {
		return -math.MaxFloat64
	}
	return *entry.From
}
