package aggregation

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// aggregationDef 请求中单个聚合的定义，形如 {"terms": {...}, "aggs": {...}}
type aggregationDef struct {
	Range     *RangeAggregation     `json:"range,omitempty" yaml:"range"`
	Histogram *HistogramAggregation `json:"histogram,omitempty" yaml:"histogram"`
	Terms     *TermsAggregation     `json:"terms,omitempty" yaml:"terms"`
	Average   *AverageAggregation   `json:"avg,omitempty" yaml:"avg"`
	Stats     *StatsAggregation     `json:"stats,omitempty" yaml:"stats"`

	Aggs *Aggregations `json:"aggs,omitempty" yaml:"aggs"`
}

func (d *aggregationDef) kinds() int {
	n := 0
	for _, set := range []bool{d.Range != nil, d.Histogram != nil, d.Terms != nil, d.Average != nil, d.Stats != nil} {
		if set {
			n++
		}
	}
	return n
}

func (a *Aggregations) add(name string, def *aggregationDef) error {
	if def.kinds() != 1 {
		return errors.Errorf("aggregation %q must declare exactly one of range, histogram, terms, avg, stats", name)
	}

	if def.Average != nil || def.Stats != nil {
		if def.Aggs.Len() > 0 {
			return errors.Errorf("metric aggregation %q cannot have sub aggregations", name)
		}
		a.AddMetric(name, &MetricAggregation{Average: def.Average, Stats: def.Stats})
		return nil
	}

	a.AddBucket(name, &BucketAggregation{
		Range:           def.Range,
		Histogram:       def.Histogram,
		Terms:           def.Terms,
		SubAggregations: def.Aggs,
	})
	return nil
}

// UnmarshalJSON 保持声明顺序，桶聚合和指标聚合分别放入 Buckets 和 Metrics
func (a *Aggregations) UnmarshalJSON(data []byte) error {
	aggs := Aggregations{}
	err := decodeOrderedObject(data, func(name string, dec *json.Decoder) error {
		var def aggregationDef
		if err := dec.Decode(&def); err != nil {
			return errors.Wrapf(err, "decode aggregation %q failed", name)
		}
		return aggs.add(name, &def)
	})
	if err != nil {
		return err
	}
	*a = aggs
	return nil
}

func (a *Aggregations) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.Errorf("line %d: aggregations must be a mapping", node.Line)
	}

	aggs := Aggregations{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var def aggregationDef
		if err := node.Content[i+1].Decode(&def); err != nil {
			return errors.Wrapf(err, "decode aggregation %q failed", name)
		}
		if err := aggs.add(name, &def); err != nil {
			return err
		}
	}
	*a = aggs
	return nil
}

// MarshalJSON 桶聚合在前，指标聚合在后
func (a Aggregations) MarshalJSON() ([]byte, error) {
	defs := NamedList[*aggregationDef]{}
	for _, item := range a.Buckets {
		b := item.Value
		defs.Add(item.Name, &aggregationDef{Range: b.Range, Histogram: b.Histogram, Terms: b.Terms, Aggs: b.SubAggregations})
	}
	for _, item := range a.Metrics {
		defs.Add(item.Name, &aggregationDef{Average: item.Value.Average, Stats: item.Value.Stats})
	}
	return json.Marshal(defs)
}

func (o *CustomOrder) UnmarshalJSON(data []byte) error {
	var m map[string]Order
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.Wrap(err, "decode order failed")
	}
	return o.fromMap(m)
}

func (o *CustomOrder) UnmarshalYAML(node *yaml.Node) error {
	var m map[string]Order
	if err := node.Decode(&m); err != nil {
		return errors.Wrap(err, "decode order failed")
	}
	return o.fromMap(m)
}

func (o *CustomOrder) fromMap(m map[string]Order) error {
	if len(m) != 1 {
		return errors.Errorf("order must have exactly one key, got %d", len(m))
	}
	for target, order := range m {
		o.Target, o.Order = target, order
	}
	return nil
}

func (o CustomOrder) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]Order{o.Target: o.Order})
}

var validate = validator.New()

// Validate 校验请求：每个聚合有且仅有一种类型，名字不重复，字段满足 validate tag
func (a *Aggregations) Validate() error {
	if a == nil {
		return nil
	}

	names := map[string]bool{}
	for _, name := range append(a.Buckets.Names(), a.Metrics.Names()...) {
		if names[name] {
			return errors.Errorf("duplicate aggregation name %q", name)
		}
		names[name] = true
	}

	for _, item := range a.Buckets {
		if err := item.Value.validate(); err != nil {
			return errors.WithMessagef(err, "invalid aggregation %q", item.Name)
		}
	}
	for _, item := range a.Metrics {
		if err := item.Value.validate(); err != nil {
			return errors.WithMessagef(err, "invalid aggregation %q", item.Name)
		}
	}
	return nil
}

func (b *BucketAggregation) validate() error {
	if b == nil {
		return errors.New("bucket aggregation is nil")
	}

	var kind any
	n := 0
	if b.Range != nil {
		kind, n = b.Range, n+1
	}
	if b.Histogram != nil {
		kind, n = b.Histogram, n+1
	}
	if b.Terms != nil {
		kind, n = b.Terms, n+1
	}
	if n != 1 {
		return errors.Errorf("bucket aggregation must have exactly one kind, got %d", n)
	}
	if err := validate.Struct(kind); err != nil {
		return errors.Wrap(err, "validate failed")
	}

	return errors.WithMessage(b.SubAggregations.Validate(), "sub aggregations")
}

func (m *MetricAggregation) validate() error {
	if m == nil {
		return errors.New("metric aggregation is nil")
	}

	switch {
	case m.Average != nil && m.Stats != nil:
		return errors.New("metric aggregation must have exactly one kind, got 2")
	case m.Average != nil:
		return errors.Wrap(validate.Struct(m.Average), "validate failed")
	case m.Stats != nil:
		return errors.Wrap(validate.Struct(m.Stats), "validate failed")
	}
	return errors.New("metric aggregation must have exactly one kind, got 0")
}
