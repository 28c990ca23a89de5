package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bluesky-social/warden/duration"
	"github.com/bluesky-social/warden/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {
	return newApp().Run(args)
}

func newApp() *cli.App {
	app := &cli.App{
		Name:    "warden",
		Usage:   "moderation action lifecycle service",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"WARDEN_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format: text or json",
			EnvVars: []string{"WARDEN_LOG_FMT"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		durationCmd,
	}

	return app
}

func configLogger(cctx *cli.Context) (*slog.Logger, error) {
	return cliutil.SetupSlog(cliutil.LogOptions{
		LogLevel:  cctx.String("log-level"),
		LogFormat: cctx.String("log-format"),
	})
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string for moderation case records",
			Value:   "sqlite://data/warden/warden.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL, for shared enforcement flag state",
			EnvVars: []string{"WARDEN_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "enforcement-mode",
			Usage:   "how actions are enforced: 'flags' (account flag store) or 'http' (platform admin API)",
			Value:   "flags",
			EnvVars: []string{"WARDEN_ENFORCEMENT_MODE"},
		},
		&cli.StringFlag{
			Name:    "backend-host",
			Usage:   "method, hostname, and port of the platform admin API (http mode)",
			EnvVars: []string{"WARDEN_BACKEND_HOST"},
		},
		&cli.StringFlag{
			Name:    "backend-admin-token",
			Usage:   "admin bearer token for the platform admin API (http mode)",
			EnvVars: []string{"WARDEN_BACKEND_ADMIN_TOKEN"},
		},
		&cli.IntFlag{
			Name:    "backend-rate-limit",
			Usage:   "max requests per second to the platform admin API",
			Value:   20,
			EnvVars: []string{"WARDEN_BACKEND_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "sets-json-path",
			Usage:   "file path of JSON file containing static sets",
			EnvVars: []string{"WARDEN_SETS_JSON_PATH"},
		},
		&cli.StringFlag{
			Name:    "exempt-set",
			Usage:   "name of the set holding accounts exempt from moderation actions",
			Value:   "exempt-accounts",
			EnvVars: []string{"WARDEN_EXEMPT_SET"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "full URL of slack webhook for audit log and critical errors",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "notify-webhook-url",
			Usage:   "URL receiving JSON events (target notices, audit, critical errors) for relay",
			EnvVars: []string{"WARDEN_NOTIFY_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "notify-webhook-token",
			Usage:   "bearer token sent to the notify webhook",
			EnvVars: []string{"WARDEN_NOTIFY_WEBHOOK_TOKEN"},
		},
		&cli.StringFlag{
			Name:     "admin-token",
			Usage:    "bearer token required on the operator API",
			Required: true,
			EnvVars:  []string{"WARDEN_ADMIN_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3889",
			EnvVars: []string{"WARDEN_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3888",
			EnvVars: []string{"WARDEN_METRICS_LISTEN"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}

		shutdownOTEL, err := configOTEL(ctx, "warden")
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownOTEL(ctx); err != nil {
				logger.Error("failed to shutdown trace exporter", "err", err)
			}
		}()

		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}

		srv, err := NewServer(db, Config{
			Logger:             logger,
			RedisURL:           cctx.String("redis-url"),
			EnforcementMode:    cctx.String("enforcement-mode"),
			BackendHost:        cctx.String("backend-host"),
			BackendAdminToken:  cctx.String("backend-admin-token"),
			BackendRateLimit:   cctx.Int("backend-rate-limit"),
			SetsFileJSON:       cctx.String("sets-json-path"),
			ExemptSet:          cctx.String("exempt-set"),
			SlackWebhookURL:    cctx.String("slack-webhook-url"),
			NotifyWebhookURL:   cctx.String("notify-webhook-url"),
			NotifyWebhookToken: cctx.String("notify-webhook-token"),
			AdminToken:         cctx.String("admin-token"),
			Bind:               cctx.String("bind"),
			MetricsListen:      cctx.String("metrics-listen"),
		})
		if err != nil {
			return err
		}

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("failed to run warden service: %w", err)
		}
		return nil
	},
}

var durationCmd = &cli.Command{
	Name:      "duration",
	Usage:     "parse human duration strings, as accepted when issuing actions",
	ArgsUsage: "<duration>...",
	Action: func(cctx *cli.Context) error {
		if cctx.Args().Len() == 0 {
			return fmt.Errorf("need at least one duration argument")
		}
		for _, raw := range cctx.Args().Slice() {
			d, err := duration.Parse(raw)
			if err != nil {
				return err
			}
			if d == nil {
				fmt.Fprintf(cctx.App.Writer, "%q\tindefinite\n", raw)
				continue
			}
			fmt.Fprintf(cctx.App.Writer, "%q\t%s\t%d seconds\n", raw, duration.Format(d), int64(d.Seconds()))
		}
		return nil
	},
}
