// Package canvas copies video frames onto drawing surfaces, either scaled
// directly (2D) or through a texture drawn as a viewport quad (GL).
package canvas

import (
	"image"
	"image/draw"
	"sync"
)

// Canvas is a drawing target.
type Canvas interface {
	Bounds() image.Rectangle
	// Paint runs fn with exclusive access to the pixels.
	Paint(fn func(dst draw.Image))
}

// Surface is an in-memory RGBA canvas safe for concurrent use.
type Surface struct {
	mu  sync.RWMutex
	img *image.RGBA
}

var _ Canvas = (*Surface)(nil)

// NewSurface creates a transparent surface.
func NewSurface(width, height int) *Surface {
	return &Surface{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

// Bounds implements Canvas.
func (s *Surface) Bounds() image.Rectangle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.img.Bounds()
}

// Paint implements Canvas.
func (s *Surface) Paint(fn func(dst draw.Image)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.img)
}

// Resize replaces the pixels with a transparent image of the new size.
func (s *Surface) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = image.NewRGBA(image.Rect(0, 0, width, height))
}

// Pixels returns the backing image. Callers must not hold it across draws.
func (s *Surface) Pixels() *image.RGBA {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.img
}

// Snapshot returns a copy of the current pixels.
func (s *Surface) Snapshot() *image.RGBA {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := image.NewRGBA(s.img.Bounds())
	copy(out.Pix, s.img.Pix)
	return out
}
