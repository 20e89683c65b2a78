package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hatlonely/facetx/log"
	"github.com/hatlonely/facetx/log/logger"
	"github.com/hatlonely/facetx/ref"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ObservableFinalizerOptions struct {
	// Engine 被包装的引擎配置
	Engine *EngineOptions `cfg:"engine"`

	// Logger 日志记录器配置
	Logger *ref.TypeOptions `cfg:"logger"`

	EnableMetrics bool `cfg:"enableMetrics"`
	EnableLogging bool `cfg:"enableLogging"`
	EnableTracing bool `cfg:"enableTracing"`

	// Name 组件名称标识
	// - Metrics: 作为指标名前缀
	// - Logging: 作为 component 字段值
	// - Tracing: 作为 tracer 名和 span 的 component 属性
	Name string `cfg:"name" def:"facetx"`

	// Registerer 指标注册位置，为空时使用 prometheus.DefaultRegisterer
	Registerer prometheus.Registerer `cfg:"-"`
}

// FinalizerMetrics 封装 prometheus 指标
type FinalizerMetrics struct {
	operationCounter   *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	activeOperations   *prometheus.GaugeVec
	aggregationsPerReq *prometheus.HistogramVec
}

// NewFinalizerMetrics 创建并注册指标，同名指标已注册时复用已有的
func NewFinalizerMetrics(name string, registerer prometheus.Registerer) (*FinalizerMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	metrics := &FinalizerMetrics{
		operationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_operations_total",
				Help: "Total number of finalize operations",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_operation_duration_seconds",
				Help:    "Duration of finalize operations in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"operation"},
		),
		activeOperations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: name + "_active_operations",
				Help: "Number of active finalize operations",
			},
			[]string{"operation"},
		),
		aggregationsPerReq: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_request_aggregations",
				Help:    "Number of top level aggregations per request",
				Buckets: []float64{1, 2, 5, 10, 20, 50},
			},
			[]string{"operation"},
		),
	}

	var err error
	if metrics.operationCounter, err = register(registerer, metrics.operationCounter); err != nil {
		return nil, err
	}
	if metrics.operationDuration, err = register(registerer, metrics.operationDuration); err != nil {
		return nil, err
	}
	if metrics.activeOperations, err = register(registerer, metrics.activeOperations); err != nil {
		return nil, err
	}
	if metrics.aggregationsPerReq, err = register(registerer, metrics.aggregationsPerReq); err != nil {
		return nil, err
	}

	return metrics, nil
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) (C, error) {
	if err := registerer.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return collector, errors.Wrap(err, "register metrics failed")
	}
	return collector, nil
}

// ObservableFinalizer 装饰器，为 Finalizer 添加指标、日志、追踪
type ObservableFinalizer struct {
	finalizer Finalizer

	logger        logger.Logger
	metrics       *FinalizerMetrics
	tracer        trace.Tracer
	name          string
	enableMetrics bool
	enableLogging bool
	enableTracing bool
}

func NewObservableFinalizerWithOptions(options *ObservableFinalizerOptions) (*ObservableFinalizer, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}

	engine, err := NewEngineWithOptions(options.Engine)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create engine")
	}

	name := options.Name
	if name == "" {
		name = "facetx"
	}

	obs := &ObservableFinalizer{
		finalizer:     engine,
		name:          name,
		enableMetrics: options.EnableMetrics,
		enableLogging: options.EnableLogging,
		enableTracing: options.EnableTracing,
	}

	if options.EnableLogging {
		l, err := log.NewLoggerWithOptions(options.Logger)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to create logger")
		}
		obs.logger = l.WithGroup("observableFinalizer")
	}

	if options.EnableMetrics {
		metrics, err := NewFinalizerMetrics(name, options.Registerer)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to create metrics")
		}
		obs.metrics = metrics
	}

	if options.EnableTracing {
		obs.tracer = otel.Tracer(fmt.Sprintf("aggregation.%s", name))
	}

	return obs, nil
}

func (obs *ObservableFinalizer) Finalize(ctx context.Context, intermediate *IntermediateAggregationResults, req *Aggregations) (AggregationResults, error) {
	const operation = "finalize"
	start := time.Now()
	finalizeID := uuid.NewString()

	var span trace.Span
	if obs.enableTracing && obs.tracer != nil {
		ctx, span = obs.tracer.Start(ctx, fmt.Sprintf("aggregation.%s", operation),
			trace.WithAttributes(
				attribute.String("component", obs.name),
				attribute.String("operation", operation),
				attribute.String("finalize_id", finalizeID),
				attribute.Int("aggregations", req.Len()),
			),
		)
		defer span.End()
	}

	if obs.enableMetrics && obs.metrics != nil {
		obs.metrics.aggregationsPerReq.WithLabelValues(operation).Observe(float64(req.Len()))
		obs.metrics.activeOperations.WithLabelValues(operation).Inc()
		defer obs.metrics.activeOperations.WithLabelValues(operation).Dec()
	}

	results, err := obs.finalizer.Finalize(ctx, intermediate, req)
	duration := time.Since(start)

	if span != nil {
		span.SetAttributes(attribute.Int64("duration_ms", duration.Milliseconds()))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if obs.enableMetrics && obs.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		obs.metrics.operationCounter.WithLabelValues(operation, status).Inc()
		obs.metrics.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}

	if obs.enableLogging && obs.logger != nil {
		if err != nil {
			obs.logger.ErrorContext(ctx, "finalize failed",
				"component", obs.name,
				"operation", operation,
				"finalize_id", finalizeID,
				"duration_ms", duration.Milliseconds(),
				"error", err.Error(),
			)
		} else {
			obs.logger.DebugContext(ctx, "finalize completed",
				"component", obs.name,
				"operation", operation,
				"finalize_id", finalizeID,
				"duration_ms", duration.Milliseconds(),
				"aggregations", results.sortedNames(),
			)
		}
	}

	return results, err
}
