package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics 调度相关指标集合
type OTelMetrics struct {
	DispatchAttemptsTotal metric.Int64Counter
	DispatchOutcomeTotal  metric.Int64Counter
	SendDuration          metric.Float64Histogram
	ClaimsTotal           metric.Int64Counter
	AbandonedClaimsTotal  metric.Int64Counter
	TickDuration          metric.Float64Histogram
	TicksTotal            metric.Int64Counter
	CompletedBroadcasts   metric.Int64Counter
}

var (
	metrics     *OTelMetrics
	metricsOnce sync.Once
	metricsErr  error
)

// InitMetrics 初始化指标；在 otel.Init 之后调用才会导出
func InitMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.Meter("wabroadcast")
		m := &OTelMetrics{}
		var err error

		if m.DispatchAttemptsTotal, err = meter.Int64Counter("dispatch_attempts_total",
			metric.WithDescription("Send attempts made by the dispatch executor"),
			metric.WithUnit("{attempt}")); err != nil {
			metricsErr = err
			return
		}
		if m.DispatchOutcomeTotal, err = meter.Int64Counter("dispatch_outcome_total",
			metric.WithDescription("Lead outcomes by resulting status"),
			metric.WithUnit("{lead}")); err != nil {
			metricsErr = err
			return
		}
		if m.SendDuration, err = meter.Float64Histogram("dispatch_send_duration_seconds",
			metric.WithDescription("Time spent in the message sender"),
			metric.WithUnit("s")); err != nil {
			metricsErr = err
			return
		}
		if m.ClaimsTotal, err = meter.Int64Counter("dispatch_claims_total",
			metric.WithDescription("Leads claimed by the pacing scheduler"),
			metric.WithUnit("{claim}")); err != nil {
			metricsErr = err
			return
		}
		if m.AbandonedClaimsTotal, err = meter.Int64Counter("dispatch_abandoned_claims_total",
			metric.WithDescription("SENDING leads re-claimed after the abandon timeout"),
			metric.WithUnit("{claim}")); err != nil {
			metricsErr = err
			return
		}
		if m.TickDuration, err = meter.Float64Histogram("scheduler_tick_duration_seconds",
			metric.WithDescription("Duration of one scheduler tick"),
			metric.WithUnit("s")); err != nil {
			metricsErr = err
			return
		}
		if m.TicksTotal, err = meter.Int64Counter("scheduler_ticks_total",
			metric.WithDescription("Scheduler ticks by result"),
			metric.WithUnit("{tick}")); err != nil {
			metricsErr = err
			return
		}
		if m.CompletedBroadcasts, err = meter.Int64Counter("broadcasts_completed_total",
			metric.WithDescription("Broadcasts automatically completed"),
			metric.WithUnit("{broadcast}")); err != nil {
			metricsErr = err
			return
		}
		metrics = m
	})
	return metricsErr
}

// GetMetrics 未初始化时返回 nil，下面的记录函数都会跳过
func GetMetrics() *OTelMetrics {
	return metrics
}

// RecordSend 记录一次发送尝试；reason 为空表示成功，否则为 delivery / config
func RecordSend(ctx context.Context, provider, reason string, seconds float64) {
	m := GetMetrics()
	if m == nil {
		return
	}
	status := "success"
	if reason != "" {
		status = "failed"
	}
	m.DispatchAttemptsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
		attribute.String("reason", reason),
	))
	m.SendDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordOutcome 记录线索落到的状态
func RecordOutcome(ctx context.Context, leadStatus string) {
	if m := GetMetrics(); m != nil {
		m.DispatchOutcomeTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", leadStatus)))
	}
}

func RecordClaim(ctx context.Context, reclaimed bool) {
	m := GetMetrics()
	if m == nil {
		return
	}
	m.ClaimsTotal.Add(ctx, 1)
	if reclaimed {
		m.AbandonedClaimsTotal.Add(ctx, 1)
	}
}

func RecordTick(ctx context.Context, seconds float64, failed bool) {
	m := GetMetrics()
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "error"
	}
	m.TicksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	m.TickDuration.Record(ctx, seconds)
}

func RecordCompleted(ctx context.Context) {
	if m := GetMetrics(); m != nil {
		m.CompletedBroadcasts.Add(ctx, 1)
	}
}
