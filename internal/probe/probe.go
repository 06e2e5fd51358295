// Package probe connects to a stream just long enough to read its
// initialization segment.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/wsvideo/internal/demux"
	"github.com/jmylchreest/wsvideo/internal/event"
	"github.com/jmylchreest/wsvideo/internal/loop"
	"github.com/jmylchreest/wsvideo/internal/observability"
	"github.com/jmylchreest/wsvideo/internal/transport"
)

// ErrClosed is returned when the connection ends before the stream
// description arrives.
var ErrClosed = errors.New("probe: connection closed before initialization segment")

// Options configures a probe.
type Options struct {
	Transport transport.Options
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Result is the outcome of a successful probe.
type Result struct {
	URL      string        `json:"url" yaml:"url"`
	Info     demux.Info    `json:"info" yaml:"info"`
	Bytes    int64         `json:"bytes_read" yaml:"bytes_read"`
	Elapsed  time.Duration `json:"elapsed" yaml:"elapsed"`
	Protocol []string      `json:"protocols,omitempty" yaml:"protocols,omitempty"`
}

type outcome struct {
	info demux.Info
	err  error
}

// Run dials url, feeds received data to a demuxer and returns the track
// description. Non-fragmented input yields demux.ErrNotFragmented.
func Run(ctx context.Context, url string, opts Options) (*Result, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	logger := observability.WithComponent(observability.OrDefault(opts.Logger), "probe")

	topts := opts.Transport
	topts.Reconnect.Enabled = false
	topts.Logger = opts.Logger

	lp := loop.New()
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer func() {
		stopLoop()
		<-lp.Done()
	}()
	go func() { _ = lp.Run(loopCtx) }()

	start := time.Now()
	done := make(chan outcome, 1)
	finish := func(o outcome) {
		select {
		case done <- o:
		default:
		}
	}

	var (
		loader    *transport.Loader
		extractor *demux.Extractor
	)
	err := lp.Call(ctx, func() {
		extractor = demux.NewExtractor(demux.ExtractorOptions{Logger: opts.Logger})
		loader = transport.New(lp, url, topts)

		event.On(extractor.Events(), demux.EventReady, func(info demux.Info) {
			finish(outcome{info: info})
		})
		event.On(extractor.Events(), demux.EventError, func(err error) {
			finish(outcome{err: err})
		})
		event.On(loader.Events(), transport.EventMessage, func(msg transport.Message) {
			if !msg.Binary {
				return
			}
			if err := extractor.AppendBuffer(msg.Data); err != nil {
				finish(outcome{err: err})
			}
		})
		event.On(loader.Events(), transport.EventError, func(err error) {
			finish(outcome{err: err})
		})
		event.On(loader.Events(), transport.EventClose, func(transport.CloseEvent) {
			finish(outcome{err: ErrClosed})
		})
		loader.Open()
	})
	if err != nil {
		return nil, fmt.Errorf("starting probe: %w", err)
	}

	var res outcome
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	var read int64
	_ = lp.Call(context.Background(), func() {
		read = extractor.Offset()
		loader.Destroy()
		extractor.Destroy()
	})

	if res.err != nil {
		return nil, fmt.Errorf("probing %s: %w", url, res.err)
	}
	logger.Debug("probe complete", slog.String("mime", res.info.MIME), slog.Int64("bytes", read))
	return &Result{
		URL:      url,
		Info:     res.info,
		Bytes:    read,
		Elapsed:  time.Since(start),
		Protocol: topts.Protocols,
	}, nil
}
