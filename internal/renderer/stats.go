package renderer

// Stats is a point-in-time view of a renderer.
type Stats struct {
	State         string  `json:"state" yaml:"state"`
	MIME          string  `json:"mime,omitempty" yaml:"mime,omitempty"`
	Paused        bool    `json:"paused" yaml:"paused"`
	Muted         bool    `json:"muted" yaml:"muted"`
	Width         int     `json:"width" yaml:"width"`
	Height        int     `json:"height" yaml:"height"`
	CurrentTime   float64 `json:"current_time" yaml:"current_time"`
	BufferedStart float64 `json:"buffered_start" yaml:"buffered_start"`
	BufferedEnd   float64 `json:"buffered_end" yaml:"buffered_end"`
	// Latency is the distance from the current time to the buffered end.
	Latency     float64 `json:"latency" yaml:"latency"`
	QueuedBytes int64   `json:"queued_bytes" yaml:"queued_bytes"`
}

// Stats returns the current playback snapshot.
func (r *Renderer) Stats() Stats {
	s := Stats{
		State:       r.state.String(),
		Paused:      r.paused,
		Muted:       r.video.Muted(),
		Width:       r.video.VideoWidth(),
		Height:      r.video.VideoHeight(),
		CurrentTime: r.video.CurrentTime(),
	}
	if r.state == StateDestroyed {
		return s
	}
	s.MIME = r.extractor.MIME()
	s.QueuedBytes = r.extractor.QueuedBytes()

	if t := r.primaryTrack(); t != nil && t.sb != nil {
		if b := t.sb.Buffered(); b.Len() > 0 {
			s.BufferedStart = b.Start(0)
			s.BufferedEnd = b.End(b.Len() - 1)
			s.Latency = max(s.BufferedEnd-s.CurrentTime, 0)
		}
	}
	return s
}
