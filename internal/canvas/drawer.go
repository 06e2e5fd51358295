package canvas

import (
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/jmylchreest/wsvideo/internal/mse"
)

// Source provides frames to draw.
type Source interface {
	ReadyState() mse.ReadyState
	Frame() image.Image
}

// Drawer copies frames from a source onto one canvas.
type Drawer interface {
	// Draw copies the current frame and reports whether anything was drawn.
	// It does nothing until the source has current data.
	Draw(src Source) bool
	// Destroy releases resources. It is safe to call more than once.
	Destroy()
}

// New returns a GL-style drawer when useWebGL is set and a 2D drawer
// otherwise.
func New(c Canvas, useWebGL bool) Drawer {
	if useWebGL {
		return &glDrawer{canvas: c}
	}
	return &drawer2D{canvas: c}
}

func currentFrame(src Source) image.Image {
	if src == nil || src.ReadyState() < mse.HaveCurrentData {
		return nil
	}
	frame := src.Frame()
	if frame == nil || frame.Bounds().Empty() {
		return nil
	}
	return frame
}

// drawer2D clears to black and scales the frame to the canvas size.
type drawer2D struct {
	canvas Canvas
}

func (d *drawer2D) Draw(src Source) bool {
	if d.canvas == nil {
		return false
	}
	frame := currentFrame(src)
	if frame == nil {
		return false
	}
	d.canvas.Paint(func(dst draw.Image) {
		b := dst.Bounds()
		draw.Draw(dst, b, image.Black, image.Point{}, draw.Src)
		xdraw.ApproxBiLinear.Scale(dst, b, frame, frame.Bounds(), draw.Over, nil)
	})
	return true
}

func (d *drawer2D) Destroy() {
	d.canvas = nil
}

// glDrawer uploads each frame into a texture and draws it as a quad
// covering the viewport, mirrored horizontally the way the vertex shader
// negates a_position.x.
type glDrawer struct {
	canvas  Canvas
	texture *image.RGBA
}

func (d *glDrawer) Draw(src Source) bool {
	if d.canvas == nil {
		return false
	}
	frame := currentFrame(src)
	if frame == nil {
		return false
	}
	d.upload(frame)

	d.canvas.Paint(func(dst draw.Image) {
		b := dst.Bounds()
		tb := d.texture.Bounds()
		sx := float64(b.Dx()) / float64(tb.Dx())
		sy := float64(b.Dy()) / float64(tb.Dy())
		m := f64.Aff3{
			-sx, 0, float64(b.Min.X + b.Dx()),
			0, sy, float64(b.Min.Y),
		}
		xdraw.ApproxBiLinear.Transform(dst, m, d.texture, tb, draw.Src, nil)
	})
	return true
}

// upload copies frame into the texture, reallocating only when the frame
// size changes.
func (d *glDrawer) upload(frame image.Image) {
	fb := frame.Bounds()
	if d.texture == nil || d.texture.Bounds().Dx() != fb.Dx() || d.texture.Bounds().Dy() != fb.Dy() {
		d.texture = image.NewRGBA(image.Rect(0, 0, fb.Dx(), fb.Dy()))
	}
	draw.Draw(d.texture, d.texture.Bounds(), frame, fb.Min, draw.Src)
}

func (d *glDrawer) Destroy() {
	d.canvas = nil
	d.texture = nil
}
