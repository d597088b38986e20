package schedule

import (
	"context"

	"WaBroadcast/internal/model"
)

// Dispatcher 把已领取的线索交给执行方。调用发生在领取事务之外。
type Dispatcher interface {
	Dispatch(ctx context.Context, job model.DispatchJob) error
}

// JobExecutor 由 service.Executor 实现
type JobExecutor interface {
	Execute(ctx context.Context, job model.DispatchJob) error
}

// InlineDispatcher 在广播的 goroutine 里同步执行，tick 返回时结果已经落库
type InlineDispatcher struct {
	executor JobExecutor
}

func NewInlineDispatcher(executor JobExecutor) *InlineDispatcher {
	return &InlineDispatcher{executor: executor}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, job model.DispatchJob) error {
	return d.executor.Execute(ctx, job)
}

// JobPublisher 由 queue.Producer 实现
type JobPublisher interface {
	PublishDispatchJob(ctx context.Context, job model.DispatchJob) error
}

// QueueDispatcher 投递到 RabbitMQ，由 worker 进程执行
type QueueDispatcher struct {
	publisher JobPublisher
}

func NewQueueDispatcher(publisher JobPublisher) *QueueDispatcher {
	return &QueueDispatcher{publisher: publisher}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, job model.DispatchJob) error {
	return d.publisher.PublishDispatchJob(ctx, job)
}
