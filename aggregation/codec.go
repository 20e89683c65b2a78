package aggregation

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	wireBuckets                 = "buckets"
	wireSumOtherDocCount        = "sum_other_doc_count"
	wireDocCountErrorUpperBound = "doc_count_error_upper_bound"
	wireKey                     = "key"
	wireDocCount                = "doc_count"
	wireFrom                    = "from"
	wireTo                      = "to"
	wireValue                   = "value"
	wireCount                   = "count"
	wireSum                     = "sum"
	wireMin                     = "min"
	wireMax                     = "max"
	wireAvg                     = "avg"
)

// Wire 转换为不带类型标签的对外结构，可选字段缺失时不输出
// 桶里的子聚合与 key、doc_count 平铺在同一层
func (r AggregationResults) Wire() map[string]any {
	m := make(map[string]any, len(r))
	for name, result := range r {
		m[name] = wireResult(result)
	}
	return m
}

func wireResult(result AggregationResult) map[string]any {
	switch v := result.(type) {
	case *RangeResult:
		buckets := make([]any, 0, len(v.Buckets))
		for _, b := range v.Buckets {
			entry := wireEntry(&b.BucketEntry)
			if b.From != nil {
				entry[wireFrom] = *b.From
			}
			if b.To != nil {
				entry[wireTo] = *b.To
			}
			buckets = append(buckets, entry)
		}
		return map[string]any{wireBuckets: buckets}
	case *HistogramResult:
		return map[string]any{wireBuckets: wireEntries(v.Buckets)}
	case *TermsResult:
		m := map[string]any{
			wireBuckets:          wireEntries(v.Buckets),
			wireSumOtherDocCount: v.SumOtherDocCount,
		}
		if v.DocCountErrorUpperBound != nil {
			m[wireDocCountErrorUpperBound] = *v.DocCountErrorUpperBound
		}
		return m
	case *AverageResult:
		m := map[string]any{}
		if v.Value != nil {
			m[wireValue] = *v.Value
		}
		return m
	case *StatsResult:
		m := map[string]any{
			wireCount: v.Count,
			wireSum:   v.Sum,
		}
		for field, value := range map[string]*float64{wireMin: v.Min, wireMax: v.Max, wireAvg: v.Avg} {
			if value != nil {
				m[field] = *value
			}
		}
		return m
	}
	return map[string]any{}
}

func wireEntries(entries []*BucketEntry) []any {
	buckets := make([]any, 0, len(entries))
	for _, e := range entries {
		buckets = append(buckets, wireEntry(e))
	}
	return buckets
}

func wireEntry(e *BucketEntry) map[string]any {
	m := make(map[string]any, len(e.SubAggregation)+2)
	for name, sub := range e.SubAggregation {
		m[name] = wireResult(sub)
	}
	m[wireKey] = e.Key.Value()
	m[wireDocCount] = e.DocCount
	return m
}

// ResultsFromWire 按字段结构识别结果类型：
// 有 buckets 和 sum_other_doc_count 的是 Terms，buckets 中有 from/to 或字符串 key 的是 Range，
// 其余有 buckets 的是 Histogram，有 count 的是 Stats，其他是 Average
func ResultsFromWire(m map[string]any) (AggregationResults, error) {
	results := make(AggregationResults, len(m))
	for name, v := range m {
		result, err := resultFromWire(v)
		if err != nil {
			return nil, errors.WithMessagef(err, "aggregation %q", name)
		}
		results[name] = result
	}
	return results, nil
}

func resultFromWire(v any) (AggregationResult, error) {
	obj, ok := asObject(v)
	if !ok {
		return nil, errors.Errorf("expected object, got %T", v)
	}

	if raw, ok := obj[wireBuckets]; ok {
		items, ok := asArray(raw)
		if !ok {
			return nil, errors.Errorf("buckets: expected array, got %T", raw)
		}
		entries := make([]map[string]any, 0, len(items))
		for i, item := range items {
			entry, ok := asObject(item)
			if !ok {
				return nil, errors.Errorf("buckets[%d]: expected object, got %T", i, item)
			}
			entries = append(entries, entry)
		}

		if _, ok := obj[wireSumOtherDocCount]; ok {
			return termsFromWire(obj, entries)
		}
		if isRangeWire(entries) {
			return rangeFromWire(entries)
		}
		buckets, err := entriesFromWire(entries, nil)
		if err != nil {
			return nil, err
		}
		return &HistogramResult{Buckets: buckets}, nil
	}

	if _, ok := obj[wireCount]; ok {
		return statsFromWire(obj)
	}
	return averageFromWire(obj)
}

func isRangeWire(entries []map[string]any) bool {
	for _, entry := range entries {
		if _, ok := entry[wireFrom]; ok {
			return true
		}
		if _, ok := entry[wireTo]; ok {
			return true
		}
		if _, ok := entry[wireKey].(string); ok {
			return true
		}
	}
	return false
}

func termsFromWire(obj map[string]any, entries []map[string]any) (*TermsResult, error) {
	buckets, err := entriesFromWire(entries, nil)
	if err != nil {
		return nil, err
	}
	result := &TermsResult{Buckets: buckets}
	if result.SumOtherDocCount, err = uintField(obj, wireSumOtherDocCount); err != nil {
		return nil, err
	}
	if _, ok := obj[wireDocCountErrorUpperBound]; ok {
		bound, err := uintField(obj, wireDocCountErrorUpperBound)
		if err != nil {
			return nil, err
		}
		result.DocCountErrorUpperBound = &bound
	}
	return result, nil
}

func rangeFromWire(entries []map[string]any) (*RangeResult, error) {
	reserved := map[string]bool{wireFrom: true, wireTo: true}
	buckets, err := entriesFromWire(entries, reserved)
	if err != nil {
		return nil, err
	}

	result := &RangeResult{Buckets: make([]*RangeBucketEntry, 0, len(buckets))}
	for i, bucket := range buckets {
		entry := &RangeBucketEntry{BucketEntry: *bucket}
		if entry.From, err = optionalFloatField(entries[i], wireFrom); err != nil {
			return nil, errors.WithMessagef(err, "buckets[%d]", i)
		}
		if entry.To, err = optionalFloatField(entries[i], wireTo); err != nil {
			return nil, errors.WithMessagef(err, "buckets[%d]", i)
		}
		result.Buckets = append(result.Buckets, entry)
	}
	return result, nil
}

// entriesFromWire key、doc_count 和 reserved 以外的字段都是子聚合
func entriesFromWire(entries []map[string]any, reserved map[string]bool) ([]*BucketEntry, error) {
	buckets := make([]*BucketEntry, 0, len(entries))
	for i, entry := range entries {
		bucket := &BucketEntry{SubAggregation: AggregationResults{}}

		switch key := entry[wireKey].(type) {
		case string:
			bucket.Key = StrKey(key)
		default:
			f, ok := toFloat(key)
			if !ok {
				return nil, errors.Errorf("buckets[%d]: invalid key %v", i, key)
			}
			bucket.Key = F64Key(f)
		}

		docCount, err := uintField(entry, wireDocCount)
		if err != nil {
			return nil, errors.WithMessagef(err, "buckets[%d]", i)
		}
		bucket.DocCount = docCount

		for name, v := range entry {
			if name == wireKey || name == wireDocCount || reserved[name] {
				continue
			}
			sub, err := resultFromWire(v)
			if err != nil {
				return nil, errors.WithMessagef(err, "buckets[%d].%s", i, name)
			}
			bucket.SubAggregation[name] = sub
		}

		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

func statsFromWire(obj map[string]any) (*StatsResult, error) {
	result := &StatsResult{}
	var err error
	if result.Count, err = uintField(obj, wireCount); err != nil {
		return nil, err
	}
	if sum, err := optionalFloatField(obj, wireSum); err != nil {
		return nil, err
	} else if sum != nil {
		result.Sum = *sum
	}
	if result.Min, err = optionalFloatField(obj, wireMin); err != nil {
		return nil, err
	}
	if result.Max, err = optionalFloatField(obj, wireMax); err != nil {
		return nil, err
	}
	if result.Avg, err = optionalFloatField(obj, wireAvg); err != nil {
		return nil, err
	}
	return result, nil
}

func averageFromWire(obj map[string]any) (*AverageResult, error) {
	value, err := optionalFloatField(obj, wireValue)
	if err != nil {
		return nil, err
	}
	return &AverageResult{Value: value}, nil
}

func uintField(obj map[string]any, field string) (uint64, error) {
	v, ok := obj[field]
	if !ok {
		return 0, errors.Errorf("missing field %q", field)
	}
	f, ok := toFloat(v)
	if !ok || f < 0 || f != math.Trunc(f) {
		return 0, errors.Errorf("field %q: expected non-negative integer, got %v", field, v)
	}
	if u, ok := v.(uint64); ok {
		return u, nil
	}
	return uint64(f), nil
}

func optionalFloatField(obj map[string]any, field string) (*float64, error) {
	v, ok := obj[field]
	if !ok || v == nil {
		return nil, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return nil, errors.Errorf("field %q: expected number, got %T", field, v)
	}
	return &f, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// asObject 兼容 json、msgpack、bson 解码出的各种对象类型
func asObject(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case map[string]any:
		return o, true
	case primitive.M:
		return o, true
	case primitive.D:
		return o.Map(), true
	case map[any]any:
		m := make(map[string]any, len(o))
		for k, v := range o {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			m[key] = v
		}
		return m, true
	}
	return nil, false
}

func asArray(v any) ([]any, bool) {
	switch a := v.(type) {
	case []any:
		return a, true
	case primitive.A:
		return a, true
	}
	return nil, false
}

// MarshalJSON JSON 不能表示 NaN 和 ±Inf，这些字段不输出，与可选字段缺失一致
func (r AggregationResults) MarshalJSON() ([]byte, error) {
	return json.Marshal(dropNonFinite(r.Wire()))
}

func dropNonFinite(v any) any {
	switch o := v.(type) {
	case map[string]any:
		for k, item := range o {
			if f, ok := item.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
				delete(o, k)
				continue
			}
			o[k] = dropNonFinite(item)
		}
	case []any:
		for i, item := range o {
			o[i] = dropNonFinite(item)
		}
	}
	return v
}

func (r *AggregationResults) UnmarshalJSON(data []byte) error {
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return errors.Wrap(err, "decode aggregation results failed")
	}
	results, err := ResultsFromWire(m)
	if err != nil {
		return err
	}
	*r = results
	return nil
}

func (r AggregationResults) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(r.Wire())
}

func (r *AggregationResults) DecodeMsgpack(dec *msgpack.Decoder) error {
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return errors.Wrap(err, "decode aggregation results failed")
	}
	results, err := ResultsFromWire(m)
	if err != nil {
		return err
	}
	*r = results
	return nil
}

func (r AggregationResults) MarshalBSON() ([]byte, error) {
	return bson.Marshal(r.Wire())
}

func (r *AggregationResults) UnmarshalBSON(data []byte) error {
	var m bson.M
	if err := bson.Unmarshal(data, &m); err != nil {
		return errors.Wrap(err, "decode aggregation results failed")
	}
	results, err := ResultsFromWire(m)
	if err != nil {
		return err
	}
	*r = results
	return nil
}

// NamedList 在 msgpack 中编码为保持顺序的 map
func (l NamedList[T]) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(len(l)); err != nil {
		return err
	}
	for _, item := range l {
		if err := enc.EncodeString(item.Name); err != nil {
			return err
		}
		if err := enc.Encode(item.Value); err != nil {
			return errors.Wrapf(err, "encode %q failed", item.Name)
		}
	}
	return nil
}

func (l *NamedList[T]) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}
	list := make(NamedList[T], 0, max(n, 0))
	for i := 0; i < n; i++ {
		name, err := dec.DecodeString()
		if err != nil {
			return err
		}
		var value T
		if err := dec.Decode(&value); err != nil {
			return errors.Wrapf(err, "decode %q failed", name)
		}
		list.Add(name, value)
	}
	*l = list
	return nil
}

// NamedList 在 bson 中编码为保持顺序的文档
func (l NamedList[T]) MarshalBSONValue() (bsontype.Type, []byte, error) {
	d := make(bson.D, 0, len(l))
	for _, item := range l {
		d = append(d, bson.E{Key: item.Name, Value: item.Value})
	}
	return bson.MarshalValue(d)
}

func (l *NamedList[T]) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t != bson.TypeEmbeddedDocument {
		return errors.Errorf("expected bson document, got %v", t)
	}
	elems, err := bson.Raw(data).Elements()
	if err != nil {
		return errors.Wrap(err, "read bson document failed")
	}
	list := make(NamedList[T], 0, len(elems))
	for _, elem := range elems {
		var value T
		if err := elem.Value().Unmarshal(&value); err != nil {
			return errors.Wrapf(err, "decode %q failed", elem.Key())
		}
		list.Add(elem.Key(), value)
	}
	*l = list
	return nil
}

// sortedNames 按名字排序，便于日志和测试输出稳定
func (r AggregationResults) sortedNames() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
