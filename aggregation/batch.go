package aggregation

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Job 一次独立的转换，Intermediate 归该任务独占，Request 可在任务间共享
type Job struct {
	Intermediate *IntermediateAggregationResults
	Request      *Aggregations
}

// FinalizeBatch 并发转换多个独立请求，concurrency <= 0 时不限制并发
// 结果与 jobs 顺序一致，任一任务失败时返回第一个错误，尚未开始的任务不再执行
func FinalizeBatch(ctx context.Context, finalizer Finalizer, jobs []*Job, concurrency int) ([]AggregationResults, error) {
	results := make([]AggregationResults, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	for i, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			result, err := finalizer.Finalize(ctx, job.Intermediate, job.Request)
			if err != nil {
				return errors.WithMessagef(err, "job %d", i)
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
