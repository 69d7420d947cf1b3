package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// MonitorRedis instruments a client with tracing and metrics and logs its commands under the given name.
func MonitorRedis(r redis.UniversalClient, name string) error {
	if err := redisotel.InstrumentTracing(r); err != nil {
		return fmt.Errorf("instrument tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(r); err != nil {
		return fmt.Errorf("instrument metrics: %w", err)
	}
	r.AddHook(redisLog{name: name})
	return nil
}

type redisLog struct {
	name string
}

func (h redisLog) DialHook(hook redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		slog.InfoContext(ctx, fmt.Sprintf("redis: %s: dialing %s %s", h.name, network, addr))
		conn, err := hook(ctx, network, addr)
		if err != nil {
			slog.ErrorContext(ctx, fmt.Sprintf("redis: %s: dial %s failed", h.name, addr), "error", err)
			return nil, err
		}
		slog.InfoContext(ctx, fmt.Sprintf("redis: %s: finished dialing %s %s", h.name, network, addr))
		return conn, nil
	}
}

// ProcessHook logs failed commands as errors and the others at debug level.
func (h redisLog) ProcessHook(hook redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := hook(ctx, cmd)
		if err != nil && err != redis.Nil {
			slog.ErrorContext(ctx, fmt.Sprintf("redis: %s: <%s> failed", h.name, cmd.Name()), "error", err)
			return err
		}
		slog.DebugContext(ctx, fmt.Sprintf("redis: %s: finished processing: <%s>", h.name, cmd.String()))
		return err
	}
}

func (h redisLog) ProcessPipelineHook(hook redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := hook(ctx, cmds)
		if err != nil {
			slog.ErrorContext(ctx, fmt.Sprintf("redis: %s: pipeline of %d commands failed", h.name, len(cmds)), "error", err)
			return err
		}
		slog.DebugContext(ctx, fmt.Sprintf("redis: %s: pipeline finished processing: %v", h.name, cmds))
		return nil
	}
}
