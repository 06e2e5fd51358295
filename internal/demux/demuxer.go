package demux

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"

	gomp4 "github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/jmylchreest/wsvideo/internal/observability"
)

const (
	boxHeaderSize         = 8
	extendedBoxHeaderSize = 16
	// maxBoxSize bounds how much a single box may make us buffer.
	maxBoxSize = 64 << 20
)

// InitSegment is a single-track initialization segment (ftyp+moov).
type InitSegment struct {
	TrackID int
	Buffer  []byte
}

type pendingSample struct {
	number int
	dts    uint64
	sample *fmp4.Sample
}

// retainedSample records an emitted sample until the consumer releases it.
// Payloads are not kept: the emitted segment owns a marshaled copy.
type retainedSample struct {
	number int
	size   int
}

type demuxTrack struct {
	id        int
	timeScale uint32
	codec     mp4.Codec
	kind      TrackKind

	segmented  bool
	nbSamples  int
	sequence   uint32
	nextNumber int
	pending    []pendingSample
	retained   []retainedSample
}

// Demuxer incrementally parses a fragmented MP4 byte stream. Chunks may
// split boxes anywhere; complete moof+mdat pairs are re-emitted as
// single-track media segments of a configurable number of samples.
//
// Demuxer is not safe for concurrent use.
type Demuxer struct {
	// OnReady is called once, after the movie box has been parsed.
	OnReady func(Info)
	// OnSegment receives one media segment and the number of the first
	// sample that has not been emitted yet for that track.
	OnSegment func(trackID int, buf []byte, sampleNumber int)
	// OnError reports parse failures. Parsing continues with the next box.
	OnError func(error)

	logger *slog.Logger

	buf        bytes.Buffer
	nextOffset int64

	init    *fmp4.Init
	info    Info
	ready   bool
	started bool
	halted  bool
	tracks  map[int]*demuxTrack
	order   []int
}

// NewDemuxer creates a Demuxer.
func NewDemuxer(logger *slog.Logger) *Demuxer {
	return &Demuxer{
		logger: observability.WithComponent(observability.OrDefault(logger), "demuxer"),
		tracks: make(map[int]*demuxTrack),
	}
}

// AppendBuffer feeds chunk, which must start at fileStart bytes into the
// stream.
func (d *Demuxer) AppendBuffer(chunk []byte, fileStart int64) error {
	if fileStart != d.nextOffset {
		return fmt.Errorf("%w: got %d, want %d", ErrOffsetMismatch, fileStart, d.nextOffset)
	}
	d.nextOffset += int64(len(chunk))
	if d.halted {
		return nil
	}
	d.buf.Write(chunk)
	d.parse()
	return nil
}

// NextOffset is the file offset expected for the next chunk.
func (d *Demuxer) NextOffset() int64 {
	return d.nextOffset
}

// Info returns the parsed stream description.
func (d *Demuxer) Info() (Info, bool) {
	return d.info, d.ready
}

// SetSegmentOptions selects a track for segmentation and the number of
// samples per emitted segment.
func (d *Demuxer) SetSegmentOptions(trackID int, nbSamples int) {
	t, ok := d.tracks[trackID]
	if !ok {
		return
	}
	if nbSamples < 1 {
		nbSamples = 1
	}
	t.segmented = true
	t.nbSamples = nbSamples
}

// InitializeSegmentation returns one initialization segment per segmented
// track, or per track when none were selected.
func (d *Demuxer) InitializeSegmentation() ([]InitSegment, error) {
	if !d.ready {
		return nil, fmt.Errorf("demux: initialization segment not parsed yet")
	}

	anySelected := false
	for _, t := range d.tracks {
		anySelected = anySelected || t.segmented
	}

	var out []InitSegment
	for _, id := range d.order {
		t := d.tracks[id]
		if !anySelected {
			t.segmented = true
			if t.nbSamples == 0 {
				t.nbSamples = 1
			}
		}
		if !t.segmented {
			continue
		}

		init := fmp4.Init{Tracks: []*fmp4.InitTrack{{
			ID:        t.id,
			TimeScale: t.timeScale,
			Codec:     t.codec,
		}}}
		var buf seekablebuffer.Buffer
		if err := init.Marshal(&buf); err != nil {
			return nil, fmt.Errorf("marshaling init segment for track %d: %w", t.id, err)
		}
		out = append(out, InitSegment{TrackID: t.id, Buffer: buf.Bytes()})
	}
	return out, nil
}

// Start begins emitting segments, including samples buffered so far.
func (d *Demuxer) Start() {
	d.started = true
	for _, id := range d.order {
		d.emit(d.tracks[id], false)
	}
}

// Stop pauses segment emission. Samples keep accumulating.
func (d *Demuxer) Stop() {
	d.started = false
}

// Halt stops the demuxer for good. Buffered bytes and samples are dropped
// and later chunks only advance the offset.
func (d *Demuxer) Halt() {
	d.started = false
	d.halted = true
	d.buf = bytes.Buffer{}
	for _, t := range d.tracks {
		clear(t.pending)
		t.pending = nil
		t.retained = nil
	}
}

// Flush emits any partial batches and drops unparsed bytes.
func (d *Demuxer) Flush() {
	if d.started {
		for _, id := range d.order {
			d.emit(d.tracks[id], true)
		}
	}
	d.buf.Reset()
}

// ReleaseUsedSamples drops the records of samples numbered below
// sampleNumber. It only trims bookkeeping; sample payloads are released as
// soon as their segment is emitted.
func (d *Demuxer) ReleaseUsedSamples(trackID int, sampleNumber int) {
	t, ok := d.tracks[trackID]
	if !ok {
		return
	}
	i := sort.Search(len(t.retained), func(i int) bool { return t.retained[i].number >= sampleNumber })
	t.retained = append(t.retained[:0], t.retained[i:]...)
}

// RetainedSamples reports how many emitted samples have not been released.
func (d *Demuxer) RetainedSamples(trackID int) int {
	if t, ok := d.tracks[trackID]; ok {
		return len(t.retained)
	}
	return 0
}

// PendingSamples reports how many parsed samples are waiting to be emitted.
func (d *Demuxer) PendingSamples(trackID int) int {
	if t, ok := d.tracks[trackID]; ok {
		return len(t.pending)
	}
	return 0
}

// PendingBytes sums the payload sizes of samples waiting to be emitted.
func (d *Demuxer) PendingBytes() int64 {
	var n int64
	for _, t := range d.tracks {
		for _, p := range t.pending {
			n += int64(len(p.sample.Payload))
		}
	}
	return n
}

func (d *Demuxer) fail(err error) {
	d.logger.Warn("fMP4 demuxer: parse error", slog.String("error", err.Error()))
	if d.OnError != nil {
		d.OnError(err)
	}
}

// parse consumes every complete box held in the buffer.
func (d *Demuxer) parse() {
	for {
		data := d.buf.Bytes()
		if len(data) < boxHeaderSize {
			return
		}
		if data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 && len(data) < extendedBoxHeaderSize {
			return
		}

		bi, err := gomp4.ReadBoxInfo(bytes.NewReader(data))
		if err != nil {
			d.fail(fmt.Errorf("reading box header: %w", err))
			d.buf.Reset()
			return
		}
		if bi.ExtendToEOF || bi.Size < bi.HeaderSize || bi.Size > maxBoxSize {
			d.fail(fmt.Errorf("%w: %s box of %d bytes", ErrBoxTooLarge, bi.Type, bi.Size))
			d.buf.Reset()
			return
		}
		size := int(bi.Size)
		if len(data) < size {
			return
		}

		switch bi.Type {
		case gomp4.BoxTypeMoof():
			if len(data) < size+boxHeaderSize {
				return
			}
			mdat, err := gomp4.ReadBoxInfo(bytes.NewReader(data[size:]))
			if err != nil || mdat.Type != gomp4.BoxTypeMdat() {
				d.logger.Debug("fMP4 demuxer: moof not followed by mdat, skipping")
				d.buf.Next(size)
				continue
			}
			if mdat.ExtendToEOF || mdat.Size > maxBoxSize {
				d.fail(fmt.Errorf("%w: mdat of %d bytes", ErrBoxTooLarge, mdat.Size))
				d.buf.Reset()
				return
			}
			total := size + int(mdat.Size)
			if len(data) < total {
				return
			}
			fragment := make([]byte, total)
			_, _ = d.buf.Read(fragment)
			d.parseFragment(fragment)

		case gomp4.BoxTypeMoov():
			moov := make([]byte, size)
			_, _ = d.buf.Read(moov)
			d.parseMoov(moov)

		case gomp4.BoxTypeMdat():
			d.logger.Debug("fMP4 demuxer: mdat without moof")
			d.buf.Next(size)

		default:
			// ftyp, styp, sidx, free, emsg, prft carry nothing we need.
			d.buf.Next(size)
		}
	}
}

func (d *Demuxer) parseMoov(moov []byte) {
	if d.ready {
		d.logger.Debug("fMP4 demuxer: ignoring repeated moov")
		return
	}

	mvex, err := gomp4.ExtractBox(bytes.NewReader(moov), nil, gomp4.BoxPath{gomp4.BoxTypeMoov(), gomp4.BoxTypeMvex()})
	if err != nil {
		d.fail(fmt.Errorf("inspecting moov: %w", err))
		return
	}
	fragmented := len(mvex) > 0

	init := &fmp4.Init{}
	if err := init.Unmarshal(bytes.NewReader(moov)); err != nil {
		if fragmented {
			d.fail(fmt.Errorf("parsing moov: %w", err))
			return
		}
		init = &fmp4.Init{}
	}

	info := Info{IsFragmented: fragmented}
	var videoCodecs, audioCodecs []string
	for _, track := range init.Tracks {
		codec, err := CodecString(track.Codec)
		if err != nil {
			d.logger.Warn("fMP4 demuxer: skipping track",
				slog.Int("track_id", track.ID),
				slog.String("error", err.Error()))
			continue
		}

		kind := kindOf(track.Codec)
		ti := TrackInfo{ID: track.ID, Kind: kind, Codec: codec, TimeScale: track.TimeScale}
		if kind == KindVideo {
			w, h := VideoSize(track.Codec)
			ti.Video = &VideoInfo{Width: w, Height: h}
			info.VideoTracks = append(info.VideoTracks, ti)
			videoCodecs = append(videoCodecs, codec)
		} else {
			rate, channels := audioParams(track.Codec, track.TimeScale)
			ti.Audio = &AudioInfo{SampleRate: rate, ChannelCount: channels}
			info.AudioTracks = append(info.AudioTracks, ti)
			audioCodecs = append(audioCodecs, codec)
		}

		d.tracks[track.ID] = &demuxTrack{
			id:        track.ID,
			timeScale: track.TimeScale,
			codec:     track.Codec,
			kind:      kind,
		}
		d.order = append(d.order, track.ID)

		d.logger.Info("fMP4 demuxer: found track",
			slog.Int("track_id", track.ID),
			slog.String("kind", string(kind)),
			slog.String("codec", codec),
			slog.Uint64("timescale", uint64(track.TimeScale)))
	}

	if len(videoCodecs) > 0 {
		info.MIME = MIMEType(KindVideo, append(videoCodecs, audioCodecs...)...)
	} else {
		info.MIME = MIMEType(KindAudio, audioCodecs...)
	}

	d.init = init
	d.info = info
	d.ready = true

	if d.OnReady != nil {
		d.OnReady(info)
	}
}

func (d *Demuxer) parseFragment(data []byte) {
	if !d.ready {
		d.logger.Warn("fMP4 demuxer: fragment received before init")
		return
	}

	var parts fmp4.Parts
	if err := parts.Unmarshal(data); err != nil {
		d.fail(fmt.Errorf("parsing fragment: %w", err))
		return
	}

	for _, part := range parts {
		for _, pt := range part.Tracks {
			t, ok := d.tracks[pt.ID]
			if !ok {
				continue
			}
			dts := pt.BaseTime
			for _, s := range pt.Samples {
				t.pending = append(t.pending, pendingSample{number: t.nextNumber, dts: dts, sample: s})
				t.nextNumber++
				dts += uint64(s.Duration)
			}
		}
	}

	if d.started {
		for _, id := range d.order {
			d.emit(d.tracks[id], false)
		}
	}
}

// emit turns pending samples into segments of nbSamples each. With partial
// set, a final short batch is emitted too.
func (d *Demuxer) emit(t *demuxTrack, partial bool) {
	if !t.segmented {
		clear(t.pending)
		t.pending = t.pending[:0]
		return
	}

	for len(t.pending) > 0 && (len(t.pending) >= t.nbSamples || partial) {
		n := min(t.nbSamples, len(t.pending))
		batch := t.pending[:n]

		samples := make([]*fmp4.Sample, n)
		size := 0
		for i, p := range batch {
			samples[i] = p.sample
			size += len(p.sample.Payload)
			t.retained = append(t.retained, retainedSample{number: p.number, size: len(p.sample.Payload)})
		}

		t.sequence++
		part := fmp4.Part{
			SequenceNumber: t.sequence,
			Tracks: []*fmp4.PartTrack{{
				ID:       t.id,
				BaseTime: batch[0].dts,
				Samples:  samples,
			}},
		}
		next := batch[n-1].number + 1
		rest := copy(t.pending, t.pending[n:])
		clear(t.pending[rest:])
		t.pending = t.pending[:rest]

		var buf seekablebuffer.Buffer
		if err := part.Marshal(&buf); err != nil {
			d.fail(fmt.Errorf("marshaling segment for track %d: %w", t.id, err))
			continue
		}

		if d.OnSegment != nil {
			d.OnSegment(t.id, buf.Bytes(), next)
		}
	}
}
