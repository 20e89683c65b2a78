package aggregation

func (a *IntermediateAverage) Finalize() *AverageResult {
	return &AverageResult{Value: average(a.Sum, a.Count)}
}

func (s *IntermediateStats) Finalize() *StatsResult {
	result := &StatsResult{
		Count: s.Count,
		Sum:   s.Sum,
		Avg:   average(s.Sum, s.Count),
	}
	if s.Count > 0 {
		lo, hi := s.Min, s.Max
		result.Min, result.Max = &lo, &hi
	}
	return result
}

// average count 为 0 时返回 nil，不返回 0 也不返回 NaN
func average(sum float64, count uint64) *float64 {
	if count == 0 {
		return nil
	}
	v := sum / float64(count)
	return &v
}

func finalizeMetric(name string, intermediate *IntermediateMetricResult, req *MetricAggregation) (MetricResult, error) {
	if req == nil {
		return nil, internalError("metric %q is not declared in request", name)
	}
	if intermediate.Type() != req.Type() {
		return nil, internalError("metric %q: intermediate %q does not match request %q", name, intermediate.Type(), req.Type())
	}

	switch req.Type() {
	case AggTypeAvg:
		return intermediate.Average.Finalize(), nil
	case AggTypeStats:
		return intermediate.Stats.Finalize(), nil
	}
	return nil, internalError("metric %q has no kind", name)
}

func emptyMetric(name string, req *MetricAggregation) (MetricResult, error) {
	switch req.Type() {
	case AggTypeAvg:
		return (&IntermediateAverage{}).Finalize(), nil
	case AggTypeStats:
		return NewIntermediateStats().Finalize(), nil
	}
	return nil, internalError("metric %q has no kind", name)
}
