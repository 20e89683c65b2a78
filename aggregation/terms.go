package aggregation

import (
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// SubFinalizer 按桶的子聚合请求转换子聚合中间结果
type SubFinalizer func(intermediate *IntermediateAggregationResults) (AggregationResults, error)

// TermsSelector 词条 top-N 选择
type TermsSelector interface {
	SelectTerms(terms *IntermediateTermBucketResult, req *TermsAggregation, finalizeSub SubFinalizer) (*TermsResult, error)
}

// DefaultTermsSelector 过滤 doc_count 小于 MinDocCount 的词条，按 Order 排序后保留前 Size 个，
// 其余词条的 doc_count 计入 sum_other_doc_count，相同排序值按 key 升序
type DefaultTermsSelector struct{}

func NewDefaultTermsSelector() *DefaultTermsSelector {
	return &DefaultTermsSelector{}
}

type termCandidate struct {
	key   string
	entry *IntermediateTermBucketEntry
	sub   AggregationResults
	value float64
}

func (s *DefaultTermsSelector) SelectTerms(terms *IntermediateTermBucketResult, req *TermsAggregation, finalizeSub SubFinalizer) (*TermsResult, error) {
	minDocCount := req.minDocCount()
	candidates := make([]*termCandidate, 0, len(terms.Entries))
	for key, entry := range terms.Entries {
		if entry.DocCount < minDocCount {
			continue
		}
		candidates = append(candidates, &termCandidate{key: key, entry: entry})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].key < candidates[j].key
	})

	order := req.order()
	switch order.Target {
	case OrderTargetKey:
		if order.Order == OrderDesc {
			sort.SliceStable(candidates, func(i, j int) bool {
				return candidates[i].key > candidates[j].key
			})
		}
	case OrderTargetCount:
		sort.SliceStable(candidates, func(i, j int) bool {
			if order.Order == OrderAsc {
				return candidates[i].entry.DocCount < candidates[j].entry.DocCount
			}
			return candidates[i].entry.DocCount > candidates[j].entry.DocCount
		})
	default:
		// 按子聚合排序需要先转换所有子聚合
		name, property := splitOrderTarget(order.Target)
		for _, c := range candidates {
			sub, err := finalizeSub(c.entry.SubAggregation)
			if err != nil {
				return nil, errors.WithMessagef(err, "term %q", c.key)
			}
			value, err := sub.GetValue(name, property)
			if err != nil {
				return nil, errors.WithMessagef(err, "order by %q", order.Target)
			}
			c.sub, c.value = sub, math.NaN()
			if value != nil {
				c.value = *value
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			if order.Order == OrderAsc {
				return candidates[i].value < candidates[j].value
			}
			return candidates[i].value > candidates[j].value
		})
	}

	result := &TermsResult{SumOtherDocCount: terms.SumOtherDocCount}
	if size := req.size(); len(candidates) > size {
		for _, c := range candidates[size:] {
			result.SumOtherDocCount += c.entry.DocCount
		}
		candidates = candidates[:size]
	}

	result.Buckets = make([]*BucketEntry, 0, len(candidates))
	for _, c := range candidates {
		if c.sub == nil {
			sub, err := finalizeSub(c.entry.SubAggregation)
			if err != nil {
				return nil, errors.WithMessagef(err, "term %q", c.key)
			}
			c.sub = sub
		}
		result.Buckets = append(result.Buckets, &BucketEntry{
			Key:            StrKey(c.key),
			DocCount:       c.entry.DocCount,
			SubAggregation: c.sub,
		})
	}

	if req.showTermDocCountError() {
		bound := terms.DocCountErrorUpperBound
		result.DocCountErrorUpperBound = &bound
	}

	return result, nil
}

// splitOrderTarget "name.property" 拆分为聚合名和属性，没有属性时属性为空
func splitOrderTarget(target string) (string, string) {
	name, property, _ := strings.Cut(target, ".")
	return name, property
}

func (e *Engine) finalizeTerms(name string, intermediate *IntermediateTermBucketResult, req *BucketAggregation) (*TermsResult, error) {
	sub := req.subAggregations()
	result, err := e.termsSelector.SelectTerms(intermediate, req.Terms, func(intermediate *IntermediateAggregationResults) (AggregationResults, error) {
		return e.finalize(intermediate, sub)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "select terms %q failed", name)
	}
	return result, nil
}
