package player

import (
	"github.com/jmylchreest/wsvideo/internal/renderer"
)

// StreamStats describes one registered stream.
type StreamStats struct {
	ID        string         `json:"id" yaml:"id"`
	URL       string         `json:"url" yaml:"url"`
	Canvases  int            `json:"canvases" yaml:"canvases"`
	Transport string         `json:"transport" yaml:"transport"`
	Attempts  int            `json:"reconnect_attempts" yaml:"reconnect_attempts"`
	Render    renderer.Stats `json:"render" yaml:"render"`
}

// Stats returns a snapshot of every stream, oldest first.
func (m *Manager) Stats() []StreamStats {
	out := make([]StreamStats, 0, len(m.urls))
	for _, s := range m.ordered() {
		out = append(out, StreamStats{
			ID:        s.id,
			URL:       s.url,
			Canvases:  len(s.drawers),
			Transport: s.loader.State().String(),
			Attempts:  s.loader.Attempts(),
			Render:    s.renderer.Stats(),
		})
	}
	return out
}
