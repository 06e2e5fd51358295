// Package demux turns a live fragmented MP4 byte stream into per-track
// initialization and media segments ready to append to a media source.
package demux

import (
	"fmt"
	"log/slog"

	"github.com/jmylchreest/wsvideo/internal/event"
	"github.com/jmylchreest/wsvideo/internal/metrics"
	"github.com/jmylchreest/wsvideo/internal/observability"
)

// Defaults for ExtractorOptions.
const (
	DefaultSegmentSamples = 1
	DefaultMaxQueueBytes  = 200 * 1024
	DefaultTrimThreshold  = 3
)

// Segment describes a media segment that was queued.
type Segment struct {
	TrackID      int
	Size         int
	SampleNumber int
	Dropped      int
}

// Events emitted by Extractor.
var (
	EventReady   = event.NewKey[Info]("ready")
	EventSegment = event.NewKey[Segment]("segment")
	EventError   = event.NewKey[error]("error")
)

// ExtractorOptions configures an Extractor.
type ExtractorOptions struct {
	// SegmentSamples is the number of samples per emitted segment.
	SegmentSamples int
	// MaxQueueBytes bounds each track queue once it holds more than
	// TrimThreshold buffers.
	MaxQueueBytes int64
	TrimThreshold int
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

func (o *ExtractorOptions) applyDefaults() {
	if o.SegmentSamples < 1 {
		o.SegmentSamples = DefaultSegmentSamples
	}
	if o.MaxQueueBytes <= 0 {
		o.MaxQueueBytes = DefaultMaxQueueBytes
	}
	if o.TrimThreshold <= 0 {
		o.TrimThreshold = DefaultTrimThreshold
	}
}

// Extractor wraps a Demuxer, feeding it chunks with increasing file offsets
// and collecting its segments into per-track queues.
type Extractor struct {
	opts   ExtractorOptions
	logger *slog.Logger
	events event.Bus

	demuxer *Demuxer
	offset  int64
	info    Info
	ready   bool
	fatal   bool
	queues  map[int]*Queue
}

// NewExtractor creates an Extractor.
func NewExtractor(opts ExtractorOptions) *Extractor {
	opts.applyDefaults()
	e := &Extractor{
		opts:   opts,
		logger: observability.WithComponent(observability.OrDefault(opts.Logger), "extractor"),
	}
	e.reset()
	return e
}

// Events returns the bus carrying EventReady, EventSegment and EventError.
func (e *Extractor) Events() *event.Bus {
	return &e.events
}

func (e *Extractor) reset() {
	d := NewDemuxer(e.opts.Logger)
	d.OnReady = e.onReady
	d.OnSegment = e.onSegment
	d.OnError = func(err error) { event.Emit(&e.events, EventError, err) }

	e.demuxer = d
	e.offset = 0
	e.info = Info{}
	e.ready = false
	e.fatal = false
	e.queues = make(map[int]*Queue)
}

// AppendBuffer feeds the next chunk of the stream. Chunks must be passed in
// arrival order.
func (e *Extractor) AppendBuffer(chunk []byte) error {
	if e.demuxer == nil {
		return fmt.Errorf("demux: extractor destroyed")
	}
	if e.fatal || len(chunk) == 0 {
		return nil
	}
	start := e.offset
	e.offset += int64(len(chunk))
	return e.demuxer.AppendBuffer(chunk, start)
}

// Offset is the number of bytes fed since the last reset.
func (e *Extractor) Offset() int64 {
	return e.offset
}

// Info returns the stream description once ready.
func (e *Extractor) Info() (Info, bool) {
	return e.info, e.ready
}

// MIME returns the combined media type, empty before ready.
func (e *Extractor) MIME() string {
	return e.info.MIME
}

// Queue returns the segment queue of a track, or nil.
func (e *Extractor) Queue(trackID int) *Queue {
	return e.queues[trackID]
}

// QueuedBytes sums the size of every track queue.
func (e *Extractor) QueuedBytes() int64 {
	var n int64
	for _, q := range e.queues {
		n += q.Bytes()
	}
	return n
}

// InitializeSegmentation pushes each track's initialization segment onto
// its queue.
func (e *Extractor) InitializeSegmentation() error {
	if !e.ready {
		return fmt.Errorf("demux: extractor not ready")
	}
	inits, err := e.demuxer.InitializeSegmentation()
	if err != nil {
		return err
	}
	for _, seg := range inits {
		q, ok := e.queues[seg.TrackID]
		if !ok {
			continue
		}
		q.Push(seg.Buffer, true)
	}
	return nil
}

// Start begins segment emission.
func (e *Extractor) Start() {
	if e.demuxer != nil && e.ready {
		e.demuxer.Start()
	}
}

// Stop pauses segment emission.
func (e *Extractor) Stop() {
	if e.demuxer != nil {
		e.demuxer.Stop()
	}
}

// Halt gives up on the stream. Buffered samples and queued segments are
// released and further chunks are ignored until ResetMimeType.
func (e *Extractor) Halt() {
	e.fatal = true
	if e.demuxer != nil {
		e.demuxer.Halt()
	}
	for _, q := range e.queues {
		q.Reset()
	}
}

// PendingBytes is the payload held by parsed samples not yet segmented.
func (e *Extractor) PendingBytes() int64 {
	if e.demuxer == nil {
		return 0
	}
	return e.demuxer.PendingBytes()
}

// Flush emits partially filled segments.
func (e *Extractor) Flush() {
	if e.demuxer != nil {
		e.demuxer.Flush()
	}
}

// ResetMimeType discards the demuxer and everything derived from it. The
// next chunk is treated as the start of a new stream.
func (e *Extractor) ResetMimeType() {
	if e.demuxer != nil {
		e.demuxer.Stop()
	}
	e.reset()
}

// Destroy releases the demuxer and all handlers.
func (e *Extractor) Destroy() {
	if e.demuxer != nil {
		e.demuxer.Stop()
		e.demuxer.OnReady = nil
		e.demuxer.OnSegment = nil
		e.demuxer.OnError = nil
	}
	e.demuxer = nil
	e.queues = nil
	e.events.Clear()
}

func (e *Extractor) onReady(info Info) {
	if !info.IsFragmented {
		e.Halt()
		e.logger.Error("stream is not fragmented MP4, giving up", slog.String("mime", info.MIME))
		event.Emit(&e.events, EventError, error(ErrNotFragmented))
		return
	}

	e.info = info
	e.ready = true
	for _, t := range info.Tracks() {
		e.queues[t.ID] = &Queue{}
		e.demuxer.SetSegmentOptions(t.ID, e.opts.SegmentSamples)
	}

	e.logger.Info("stream ready", slog.String("mime", info.MIME))
	event.Emit(&e.events, EventReady, info)
}

func (e *Extractor) onSegment(trackID int, buf []byte, sampleNumber int) {
	q, ok := e.queues[trackID]
	if !ok || !e.ready {
		return
	}

	q.Push(buf, false)
	e.demuxer.ReleaseUsedSamples(trackID, sampleNumber)

	dropped := 0
	if q.Len() > e.opts.TrimThreshold {
		dropped = q.TrimTo(e.opts.MaxQueueBytes)
		if dropped > 0 {
			e.opts.Metrics.AddQueueEvictions(dropped)
			e.logger.Debug("trimmed segment queue",
				slog.Int("track_id", trackID),
				slog.Int("dropped", dropped),
				slog.Int64("queued_bytes", q.Bytes()))
		}
	}

	event.Emit(&e.events, EventSegment, Segment{
		TrackID:      trackID,
		Size:         len(buf),
		SampleNumber: sampleNumber,
		Dropped:      dropped,
	})
}
