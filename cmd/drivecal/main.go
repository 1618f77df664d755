package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"drivecal/internal/api"
	"drivecal/internal/blackout"
	"drivecal/internal/calendar"
	"drivecal/internal/capture"
	"drivecal/internal/config"
	"drivecal/internal/ics"
	"drivecal/internal/indexer"
	appLog "drivecal/internal/log"
	"drivecal/internal/model"
	"drivecal/internal/persist"
	"drivecal/internal/realtime"
	"drivecal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath   string
	listen       string
	month        string
	instructorID string
	groupID      string
	export       string
}

func main() {
	appLog.Info("drivecal starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	var month model.MonthKey
	if flags.month != "" {
		month, err = model.ParseMonth(flags.month)
		if err != nil {
			appLog.Error("invalid -month", err)
			os.Exit(2)
		}
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"api", conf.API.BaseURL,
		"realtime", conf.Realtime.URL != "",
		"user", conf.Realtime.UserID,
		"feeds", len(conf.Feeds),
		"state_path", conf.StatePath,
		"export", flags.export,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags, month); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("drivecal failed", err)
		os.Exit(1)
	}
	appLog.Info("drivecal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig, month model.MonthKey) error {
	client := api.New(conf.API)

	// Instructors with an ICS feed read blackouts from it, the rest from
	// the REST backend.
	router := blackout.Router{Default: client, Feeds: map[string]blackout.Source{}}
	if len(conf.Feeds) > 0 {
		feeds := make([]ics.Feed, 0, len(conf.Feeds))
		for _, f := range conf.Feeds {
			feeds = append(feeds, ics.Feed{InstructorID: f.InstructorID, URL: f.URL})
		}
		fetcher := ics.NewFetcher(conf.Blackout.CacheDir, time.Duration(conf.API.TimeoutSec)*time.Second)
		src := ics.NewSource(fetcher, feeds, conf.Location(), time.Duration(conf.Blackout.SlotMinutes)*time.Minute)
		for _, id := range src.Instructors() {
			router.Feeds[id] = src
		}
	}

	worker := indexer.StartWorker(8)
	defer worker.Stop()

	opts := calendar.Options{
		Config:    conf,
		Backend:   client,
		Blackouts: router,
		Store:     persist.Open(conf.StatePath, conf.Persistence.MaxMonths),
		Worker:    worker,
		Filters:   api.Filters{InstructorID: flags.instructorID, GroupID: flags.groupID},
		Month:     month,
	}
	var rt *realtime.Client
	if conf.Realtime.URL != "" {
		rt = realtime.New(conf.Realtime.URL, time.Duration(conf.Realtime.ReconnectSec)*time.Second)
		opts.Channel = rt
	}
	sess := calendar.New(opts)
	client.OnLocalWrite = sess.MarkLocal

	g, gctx := errgroup.WithContext(ctx)
	if rt != nil {
		g.Go(func() error { return rt.Run(gctx) })
	}
	g.Go(func() error { return sess.Run(gctx) })
	g.Go(func() error { return web.StartServer(gctx, conf, sess, client) })

	if flags.export != "" {
		g.Go(func() error {
			err := exportOnce(gctx, conf, sess, flags.export)
			if err == nil {
				return errExported
			}
			return err
		})
	}

	err := g.Wait()
	if errors.Is(err, errExported) {
		return nil
	}
	return err
}

// errExported stops the group after a one-shot export.
var errExported = errors.New("export finished")

// exportOnce waits for the first load, captures the month and returns.
func exportOnce(ctx context.Context, conf *config.Config, sess *calendar.Session, path string) error {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for !sess.Snapshot().Loaded {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	snap := sess.Snapshot()
	opts := capture.Options{
		BaseURL:    capture.LocalBaseURL(conf.Listen),
		OutputPath: path,
		Width:      conf.Capture.Width,
		Height:     conf.Capture.Height,
	}
	if conf.BasicAuth != nil {
		opts.Username = conf.BasicAuth.Username
		opts.Password = conf.BasicAuth.Password
	}
	png, err := capture.MonthPNG(ctx, snap.Month, opts)
	if err != nil {
		return err
	}
	appLog.Info("month exported", "month", snap.Month, "path", path, "bytes", len(png))
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./drivecal.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.month, "month", "", "Month to open, YYYY-MM (default: last viewed)")
	flag.StringVar(&cfg.instructorID, "instructor", "", "Only list reservations of this instructor")
	flag.StringVar(&cfg.groupID, "group", "", "Only list reservations of this group")
	flag.StringVar(&cfg.export, "export", "", "Capture the month to this PNG path and exit")

	flag.Parse()

	return cfg
}
