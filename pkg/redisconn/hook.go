package redisconn

import (
	"context"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "respcache_redis_command_duration_seconds",
	Help:    "Redis command duration in seconds by command and status",
	Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
}, []string{"command", "status"})

// MetricsHook implements redis.Hook to record command metrics.
type MetricsHook struct{}

// NewMetricsHook creates a new MetricsHook.
func NewMetricsHook() *MetricsHook {
	return &MetricsHook{}
}

// DialHook is called when a new connection is established (pass through).
func (h *MetricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

// ProcessHook records the duration of single commands.
func (h *MetricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		observe(cmd.Name(), time.Since(start), err)
		return err
	}
}

// ProcessPipelineHook records pipelined commands, splitting the round trip evenly.
func (h *MetricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		if len(cmds) == 0 {
			return err
		}

		perCmd := time.Since(start) / time.Duration(len(cmds))
		for _, cmd := range cmds {
			observe(cmd.Name(), perCmd, cmd.Err())
		}
		return err
	}
}

func observe(command string, d time.Duration, err error) {
	commandDuration.WithLabelValues(command, status(err)).Observe(d.Seconds())
}

// status maps a command error to a metric label. A nil reply is not a failure.
func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case err == redis.Nil:
		return "nil"
	default:
		return "error"
	}
}
