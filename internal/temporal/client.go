package temporal

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
)

// DefaultTaskQueue is used when the config leaves the queue empty.
const DefaultTaskQueue = "research"

// Config addresses the Temporal frontend.
type Config struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

func (c Config) withDefaults() Config {
	if c.HostPort == "" {
		c.HostPort = client.DefaultHostPort
	}
	if c.Namespace == "" {
		c.Namespace = client.DefaultNamespace
	}
	if c.TaskQueue == "" {
		c.TaskQueue = DefaultTaskQueue
	}
	return c
}

// Dial connects to Temporal with the zap adapter installed.
func Dial(cfg Config, logger *zap.Logger) (client.Client, error) {
	cfg = cfg.withDefaults()
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewZapAdapter(logger.Named("temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal at %s: %w", cfg.HostPort, err)
	}
	return c, nil
}

// NewWorker builds a worker on the configured queue; register adds the
// workflow and activities.
func NewWorker(c client.Client, cfg Config, maxConcurrentActivities int, register func(worker.Registry)) worker.Worker {
	cfg = cfg.withDefaults()
	opts := worker.Options{}
	if maxConcurrentActivities > 0 {
		opts.MaxConcurrentActivityExecutionSize = maxConcurrentActivities
	}
	w := worker.New(c, cfg.TaskQueue, opts)
	register(w)
	return w
}

// QueueName resolves the task queue name.
func (c Config) QueueName() string { return c.withDefaults().TaskQueue }
