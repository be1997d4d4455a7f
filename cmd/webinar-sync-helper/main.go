// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
//
// It keeps Webex webinars and their panelists in sync with the rows of a
// SharePoint list folder. Without a schedule it runs one pass and exits;
// with SCHEDULE set it runs passes on a cron schedule and serves health
// checks until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	nats "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/oauth2"
)

const (
	errKey = "error"
	// gracefulShutdownSeconds should be higher than NATS client
	// request timeout, and lower than the pod or liveness probe's
	// terminationGracePeriodSeconds.
	gracefulShutdownSeconds = 25
)

var (
	logger   *slog.Logger
	cfg      *Config
	natsConn *nats.Conn
)

// main parses optional flags and runs passes once or on a schedule.
func main() {
	var err error
	cfg, err = LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	var debug = flag.Bool("d", false, "enable debug logging")
	var port = flag.String("p", cfg.Port, "health checks port")
	var bind = flag.String("bind", cfg.Bind, "interface to bind on")
	var once = flag.Bool("once", false, "run a single pass and exit, ignoring SCHEDULE")

	flag.Usage = func() {
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.Parse()

	logger = slog.New(newConsoleHandler(cfg, cfg.Debug || *debug))
	slog.SetDefault(logger)

	// Support graceful shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	gracefulCloseWG := sync.WaitGroup{}

	var kv jetstream.KeyValue
	var js jetstream.JetStream
	if cfg.NATSURL != "" {
		js, kv, err = connectNATS(ctx, done, &gracefulCloseWG)
		if err != nil {
			logger.With(errKey, err).Error("error initializing NATS")
			os.Exit(1)
		}
	}

	var backend ParamStore
	var kvStore *kvParamStore
	switch cfg.ParamStore {
	case "nats":
		kvStore = newKVParamStore(kv, cfg.ParamPrefix)
		backend = kvStore
	default:
		ssmStore, err := newSSMParamStore(ctx, cfg)
		if err != nil {
			logger.With(errKey, err).Error("error initializing parameter store")
			os.Exit(1)
		}
		backend = ssmStore
	}
	store := newCachedParamStore(backend, cfg.ParamCacheTTL)
	if kvStore != nil {
		if err := watchParams(ctx, kv, kvStore, store, logger); err != nil {
			logger.With(errKey, err).Error("error initializing parameter store")
			os.Exit(1)
		}
	}

	graphHTTP, err := newGraphHTTPClient(ctx, cfg.SharePointTenantID, cfg.SharePointClientID, cfg.SharePointClientSecret)
	if err != nil {
		logger.With(errKey, err).Error("error initializing SharePoint client")
		os.Exit(1)
	}

	bot := NewWebexClient(cfg.WebexAPIURL, oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.WebexBotToken})))
	if err := checkBot(ctx, bot, cfg.WebexBotRoomID, logger); err != nil {
		logger.With(errKey, err).Error("error initializing Webex bot")
		os.Exit(1)
	}

	notifiers := multiNotifier{&botNotifier{bot: bot, roomID: cfg.WebexBotRoomID}}
	var locker passLocker = &localPassLocker{}
	if js != nil {
		notifiers = append(notifiers, &natsReportNotifier{js: js, subject: cfg.ReportSubject, useMsgpack: cfg.UseMsgpack})
		locker = newKVPassLocker(kv)
	}

	runner := &passRunner{
		config:  parseRunConfig(cfg.SharePointParams, cfg.WebexIntegrationParams, logger),
		sources: &sharePointSource{params: store, client: NewGraphClient(cfg.GraphAPIURL, graphHTTP)},
		webinars: &webexIntegration{
			baseURL: cfg.WebexAPIURL,
			tokens: &webexTokenProvider{
				store:  store,
				oauth:  newWebexOAuthConfig(cfg.WebexClientID, cfg.WebexClientSecret, cfg.WebexTokenURL),
				now:    time.Now,
				logger: logger,
			},
		},
		notifier: notifiers,
		console:  logger.Handler(),
		now:      time.Now,
	}
	scheduler := newPassScheduler(runner.Run, locker, logger)

	if *once || cfg.Schedule == "" {
		// A signal interrupts the pass between rows.
		go func() {
			<-done
			cancel()
		}()
		_, _, err := scheduler.runGuarded(ctx)
		closeNATS(ctx, cancel, &gracefulCloseWG)
		if err != nil {
			os.Exit(1)
		}
		return
	}

	var started atomic.Bool
	httpServer := startHealthServer(*bind, *port, &started)

	if err := scheduler.Start(ctx, cfg.Schedule); err != nil {
		logger.With(errKey, err).Error("error starting pass scheduler")
		os.Exit(1)
	}
	started.Store(true)

	// This next line blocks until SIGINT or SIGTERM is received, or NATS disconnects.
	<-done

	// Begin graceful shutdown process.
	logger.Debug("beginning graceful shutdown")
	started.Store(false)

	// Waits for a running pass to finish before NATS is drained.
	scheduler.Stop()
	closeNATS(ctx, cancel, &gracefulCloseWG)

	// Immediately close the HTTP server after graceful shutdown has finished.
	if err = httpServer.Close(); err != nil {
		logger.With(errKey, err).Error("http listener error on close")
	}
}

// newConsoleHandler returns the process log handler: JSON by default, or
// colorized text when LOG_FORMAT=text.
func newConsoleHandler(cfg *Config, debug bool) slog.Handler {
	logOptions := &slog.HandlerOptions{}

	// Optional debug logging.
	if debug {
		logOptions.Level = slog.LevelDebug
		logOptions.AddSource = true
	}

	if cfg.LogFormat == "text" {
		return tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logOptions.Level,
			AddSource:  logOptions.AddSource,
			TimeFormat: time.Kitchen,
		})
	}
	return slog.NewJSONHandler(os.Stdout, logOptions)
}

// connectNATS connects to NATS and prepares the KV bucket used for the
// parameter store and pass lock, and the stream receiving run reports.
func connectNATS(ctx context.Context, done chan<- os.Signal, gracefulCloseWG *sync.WaitGroup) (jetstream.JetStream, jetstream.KeyValue, error) {
	var err error
	gracefulCloseWG.Add(1)
	natsConn, err = nats.Connect(
		cfg.NATSURL,
		nats.DrainTimeout(gracefulShutdownSeconds*time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, s *nats.Subscription, err error) {
			if s != nil {
				logger.With(errKey, err, "subject", s.Subject, "queue", s.Queue).Error("async NATS error")
			} else {
				logger.With(errKey, err).Error("async NATS error outside subscription")
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if ctx.Err() != nil {
				// Graceful shutdown: let the remaining steps complete.
				gracefulCloseWG.Done()
				return
			}
			// Otherwise max reconnect attempts have been exhausted.
			logger.Error("NATS max-reconnects exhausted; connection closed")
			done <- os.Interrupt
			time.Sleep(5 * time.Second)
			os.Exit(1)
		}),
	)
	if err != nil {
		gracefulCloseWG.Done()
		return nil, nil, fmt.Errorf("error creating NATS client: %w", err)
	}

	js, err := jetstream.New(natsConn)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.NATSKVBucket,
		Description: "SharePoint to Webex parameters and pass lock",
		Storage:     jetstream.FileStorage,
		History:     1,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("error creating KV bucket %s: %w", cfg.NATSKVBucket, err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.ReportStream,
		Subjects:    []string{cfg.ReportSubject},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Description: "SharePoint to Webex run reports",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("error creating NATS stream %s: %w", cfg.ReportStream, err)
	}

	return js, kv, nil
}

// closeNATS drains the NATS connection, if any, and waits for it to close.
func closeNATS(ctx context.Context, cancel context.CancelFunc, gracefulCloseWG *sync.WaitGroup) {
	// Cancel the background context so the closed handler sees a graceful
	// shutdown.
	cancel()

	if natsConn != nil && !natsConn.IsClosed() && !natsConn.IsDraining() {
		logger.Info("draining NATS connection")
		if err := natsConn.Drain(); err != nil {
			logger.With(errKey, err).Error("error draining NATS connection")
			os.Exit(1)
		}
	}

	logger.Debug("waiting for graceful shutdown steps to complete")
	gracefulCloseWG.Wait()
	logger.DebugContext(ctx, "graceful shutdown steps completed")
}

// checkBot verifies the bot token and the bot's membership of the log room.
func checkBot(ctx context.Context, bot *WebexClient, roomID string, log *slog.Logger) error {
	me, err := bot.Me(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify bot token: %w", err)
	}
	if me.Type != "bot" {
		return fmt.Errorf("WEBEX_BOT_TOKEN belongs to a %q account, not a bot", me.Type)
	}
	room, err := bot.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to access bot room %s: %w", roomID, err)
	}
	log.With("bot", me.DisplayName, "room", room.Title).Debug("webex bot ready")
	return nil
}

// startHealthServer serves /livez and /readyz. The server does NOT
// participate in the graceful shutdown process; it stays up until the
// process is killed, to avoid liveness checks failing during shutdown.
func startHealthServer(bind, port string, started *atomic.Bool) *http.Server {
	mux := http.NewServeMux()

	// Support GET/POST monitoring "ping".
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "OK\n")
	})

	// Basic health check.
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !started.Load() {
			http.Error(w, "pass scheduler not running", http.StatusServiceUnavailable)
			return
		}
		if natsConn != nil && (!natsConn.IsConnected() || natsConn.IsDraining()) {
			http.Error(w, "NATS connection not ready", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "OK\n")
	})

	var addr string
	if bind == "*" {
		addr = ":" + port
	} else {
		addr = bind + ":" + port
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() {
		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logger.With(errKey, err).Error("http listener error")
			os.Exit(1)
		}
	}()
	return httpServer
}
