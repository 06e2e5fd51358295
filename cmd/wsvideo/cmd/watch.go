package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/wsvideo/internal/canvas"
	"github.com/jmylchreest/wsvideo/internal/event"
	"github.com/jmylchreest/wsvideo/internal/loop"
	"github.com/jmylchreest/wsvideo/internal/metrics"
	"github.com/jmylchreest/wsvideo/internal/player"
	"github.com/jmylchreest/wsvideo/internal/sysstats"
	"github.com/jmylchreest/wsvideo/internal/urlutil"
	"github.com/jmylchreest/wsvideo/pkg/bytesize"
)

var watchCmd = &cobra.Command{
	Use:   "watch URL...",
	Short: "Play streams and report their health",
	Long: `Play one or more streams on headless render surfaces.

Every URL gets --canvases surfaces sharing a single connection. Stream state,
latency and buffering are logged every --stats-interval, and Prometheus
metrics are served when metrics are enabled.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().Int("canvases", 1, "render surfaces per stream")
	watchCmd.Flags().Int("width", 320, "surface width in pixels")
	watchCmd.Flags().Int("height", 180, "surface height in pixels")
	watchCmd.Flags().Duration("stats-interval", 10*time.Second, "interval between stats reports (0 disables)")
	watchCmd.Flags().String("play-audio", "", "unmute this stream and mute the others")
	watchCmd.Flags().Duration("duration", 0, "stop after this long (0 runs until interrupted)")
	watchCmd.Flags().Int("connect-limit", 0, "maximum concurrent streams (0 uses the platform default)")
	watchCmd.Flags().Bool("webgl", false, "use the texture drawing path")
	watchCmd.Flags().Bool("metrics", false, "serve Prometheus metrics")
	watchCmd.Flags().String("metrics-listen", ":9464", "metrics listen address")

	mustBindPFlag("player.connect_limit", watchCmd.Flags().Lookup("connect-limit"))
	mustBindPFlag("player.use_webgl", watchCmd.Flags().Lookup("webgl"))
	mustBindPFlag("metrics.enabled", watchCmd.Flags().Lookup("metrics"))
	mustBindPFlag("metrics.listen", watchCmd.Flags().Lookup("metrics-listen"))
}

func runWatch(cmd *cobra.Command, urls []string) error {
	if err := urlutil.ValidateStreamURLs(urls); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	canvases, _ := cmd.Flags().GetInt("canvases")
	width, _ := cmd.Flags().GetInt("width")
	height, _ := cmd.Flags().GetInt("height")
	statsInterval, _ := cmd.Flags().GetDuration("stats-interval")
	playAudio, _ := cmd.Flags().GetString("play-audio")
	runFor, _ := cmd.Flags().GetDuration("duration")
	if canvases < 1 {
		return fmt.Errorf("--canvases must be at least 1")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runFor)
		defer cancel()
	}

	m := metrics.New()

	// The loop outlives ctx so the manager can be destroyed on it.
	lp := loop.New(loop.WithFrameInterval(cfg.Player.FrameInterval()))
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go func() { _ = lp.Run(loopCtx) }()
	defer func() {
		stopLoop()
		<-lp.Done()
	}()

	mgr := player.New(lp, playerOptions(cfg, m, logger))
	if err := mgr.Call(ctx, func(mgr *player.Manager) {
		subscribe(mgr, logger)
		for _, url := range urls {
			for range canvases {
				if err := mgr.AddCanvas(canvas.NewSurface(width, height), url, nil); err != nil {
					logger.Error("adding canvas failed", slog.String("url", url), slog.String("error", err.Error()))
					break
				}
			}
		}
		if playAudio != "" {
			mgr.PlayOneAudio(playAudio)
		}
	}); err != nil {
		return fmt.Errorf("starting streams: %w", err)
	}

	logger.Info("watching streams",
		slog.Int("streams", len(urls)),
		slog.Int("canvases_per_stream", canvases),
		slog.Int("connect_limit", mgr.ConnectLimit()))

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           metricsRouter(m),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics server listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if statsInterval > 0 {
		g.Go(func() error {
			reportStats(ctx, mgr, statsInterval, logger)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	runErr := g.Wait()

	destroyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Call(destroyCtx, func(mgr *player.Manager) { mgr.Destroy() }); err != nil {
		logger.Warn("stopping streams failed", slog.String("error", err.Error()))
	}
	logger.Info("stopped")
	return runErr
}

func subscribe(mgr *player.Manager, logger *slog.Logger) {
	event.On(mgr.Events(), player.EventCapacityExceeded, func(ev player.CapacityExceeded) {
		logger.Warn("connection limit reached", slog.String("url", ev.URL), slog.Int("limit", ev.Limit))
	})
	event.On(mgr.Events(), player.EventStreamState, func(ev player.StreamState) {
		logger.Info("stream state", slog.String("url", ev.URL), slog.String("state", ev.State.String()))
	})
	event.On(mgr.Events(), player.EventStreamClose, func(ev player.StreamClose) {
		if ev.Manual {
			return
		}
		logger.Warn("stream closed",
			slog.String("url", ev.URL),
			slog.Int("code", ev.Code),
			slog.Bool("will_reconnect", ev.WillReconnect),
			slog.Int("attempt", ev.Attempt))
	})
	event.On(mgr.Events(), player.EventStreamError, func(ev player.StreamError) {
		logger.Warn("stream error", slog.String("url", ev.URL), slog.String("error", ev.Err.Error()))
	})
}

func metricsRouter(m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", m.Handler(nil))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func reportStats(ctx context.Context, mgr *player.Manager, interval time.Duration, logger *slog.Logger) {
	collector := sysstats.NewCollector()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var streams []player.StreamStats
		if err := mgr.Call(ctx, func(mgr *player.Manager) { streams = mgr.Stats() }); err != nil {
			return
		}
		for _, s := range streams {
			logger.Info("stream stats",
				slog.String("stream_id", s.ID),
				slog.String("url", s.URL),
				slog.String("transport", s.Transport),
				slog.String("state", s.Render.State),
				slog.Bool("paused", s.Render.Paused),
				slog.Bool("muted", s.Render.Muted),
				slog.Float64("latency_seconds", s.Render.Latency),
				slog.Float64("buffered_start", s.Render.BufferedStart),
				slog.Float64("buffered_end", s.Render.BufferedEnd),
				slog.String("queued", bytesize.Format(bytesize.Size(s.Render.QueuedBytes))))
		}

		proc := collector.Collect(ctx)
		logger.Info("process stats",
			slog.String("rss", bytesize.Format(bytesize.Size(proc.RSSBytes))),
			slog.Float64("cpu_percent", proc.CPUPercent),
			slog.Int("goroutines", proc.Goroutines),
			slog.Duration("uptime", proc.Uptime))
	}
}
