package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"automation-engine/pkg/config"
)

func main() {
	defaults := config.Default()

	cmd := &cli.Command{
		Name:                  "automation-engine",
		EnableShellCompletion: true,
		Usage:                 "Run and manage web automation workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "HTTP listen address",
				Value:   defaults.Addr,
				Sources: cli.EnvVars("ADDR"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "PostgreSQL connection URL; runs are kept in memory when empty",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   defaults.LogLevel,
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "cors-origins",
				Usage:   "Comma separated list of allowed CORS origins",
				Value:   "http://localhost:3003",
				Sources: cli.EnvVars("CORS_ORIGINS"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus for run events (gochannel, kafka)",
				Value:   defaults.EventBus,
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for schedule locks shared between instances",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "run-timeout",
				Usage:   "Maximum duration of a single workflow run",
				Value:   defaults.RunTimeout,
				Sources: cli.EnvVars("RUN_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "node-timeout",
				Usage:   "Maximum duration of a single node",
				Value:   defaults.NodeTimeout,
				Sources: cli.EnvVars("NODE_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "orphan-threshold",
				Usage:   "Age after which a running run is reported as orphaned",
				Value:   defaults.OrphanThreshold,
				Sources: cli.EnvVars("ORPHAN_THRESHOLD"),
			},
			&cli.StringFlag{
				Name:    "sweep-schedule",
				Usage:   "Cron schedule of the orphan sweep",
				Value:   defaults.SweepSchedule,
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.BoolFlag{
				Name:    "mark-orphans",
				Usage:   "Mark orphaned runs as failed during the sweep",
				Sources: cli.EnvVars("MARK_ORPHANS"),
			},
			&cli.FloatFlag{
				Name:    "execute-rate",
				Usage:   "Maximum execute requests per second (0 disables the limit)",
				Sources: cli.EnvVars("EXECUTE_RATE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.BoolFlag{
				Name:    "seed",
				Usage:   "Insert the sample workflow on startup",
				Value:   true,
				Sources: cli.EnvVars("SEED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return serve(ctx, configFromCommand(command))
		},
		Commands: []*cli.Command{
			newValidateCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configFromCommand(command *cli.Command) config.Config {
	return config.Config{
		Addr:            command.String("addr"),
		DatabaseURL:     command.String("database-url"),
		LogLevel:        command.String("log-level"),
		CORSOrigins:     config.SplitList(command.String("cors-origins")),
		EventBus:        command.String("event-bus"),
		KafkaBrokers:    config.SplitList(command.String("kafka-brokers")),
		RedisURL:        command.String("redis-url"),
		RunTimeout:      command.Duration("run-timeout"),
		NodeTimeout:     command.Duration("node-timeout"),
		OrphanThreshold: command.Duration("orphan-threshold"),
		SweepSchedule:   command.String("sweep-schedule"),
		MarkOrphans:     command.Bool("mark-orphans"),
		ExecuteRate:     command.Float("execute-rate"),
		Tracing:         command.Bool("tracing"),
		Seed:            command.Bool("seed"),
	}
}
