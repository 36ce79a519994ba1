package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"vigia/internal/logging"
	"vigia/internal/metrics"
	"vigia/internal/stream"
)

// Compositor applies command lists onto a fixed 16:9 RGBA surface. A frame
// that fails to decode leaves the previous composited surface in place and
// is reported through the error callback, never propagated.
type Compositor struct {
	renderer *Renderer
	metrics  *metrics.Metrics
	onError  func(error)

	mu      sync.RWMutex
	surface *image.RGBA
}

// NewCompositor creates a compositor with a black width x height surface.
func NewCompositor(r *Renderer, m *metrics.Metrics, onError func(error)) *Compositor {
	surface := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	draw.Draw(surface, surface.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	return &Compositor{renderer: r, metrics: m, onError: onError, surface: surface}
}

// Present composites one snapshot. Called once per frame event; the paint
// rate tracks the inbound frame rate.
func (c *Compositor) Present(snap stream.Snapshot) {
	if len(snap.Frame) == 0 {
		return
	}
	start := time.Now()

	img, err := jpeg.Decode(bytes.NewReader(snap.Frame))
	if err != nil {
		logging.Warn("[Overlay] Frame decode failed: %v", err)
		if c.metrics != nil {
			c.metrics.RenderErrors.Inc()
		}
		if c.onError != nil {
			c.onError(fmt.Errorf("overlay: frame decode: %w", err))
		}
		return
	}

	b := img.Bounds()
	cmds := c.renderer.Render(b.Dx(), b.Dy(), snap)

	next := image.NewRGBA(image.Rect(0, 0, c.renderer.Width, c.renderer.Height))
	draw.Draw(next, next.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	for _, cmd := range cmds {
		switch cmd.Op {
		case OpBlit:
			scaled := img
			if cmd.Rect.Dx() != b.Dx() || cmd.Rect.Dy() != b.Dy() {
				scaled = imaging.Resize(img, cmd.Rect.Dx(), cmd.Rect.Dy(), imaging.Linear)
			}
			draw.Draw(next, cmd.Rect, scaled, scaled.Bounds().Min, draw.Src)
		case OpWash:
			draw.Draw(next, cmd.Rect, image.NewUniform(cmd.Color), image.Point{}, draw.Over)
		case OpBox:
			drawBox(next, cmd.Rect, cmd.Color, 2)
		case OpLabel:
			drawLabel(next, cmd.Rect.Min.X, cmd.Rect.Min.Y, cmd.Text, cmd.Color)
		}
	}

	c.mu.Lock()
	c.surface = next
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RenderSeconds.Observe(time.Since(start).Seconds())
	}
}

// Surface returns the current composited surface.
func (c *Compositor) Surface() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.surface
}

// JPEG encodes the current surface, for the snapshot endpoint.
func (c *Compositor) JPEG() ([]byte, error) {
	c.mu.RLock()
	surface := c.surface
	c.mu.RUnlock()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, surface, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("overlay: encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// drawBox strokes a rectangle outline on the image
func drawBox(img *image.RGBA, r image.Rectangle, c color.NRGBA, thickness int) {
	bounds := img.Bounds()
	x, y := r.Min.X, r.Min.Y
	w, h := r.Dx(), r.Dy()

	for t := 0; t < thickness; t++ {
		for i := x; i < x+w && i < bounds.Max.X; i++ {
			if y+t >= 0 && y+t < bounds.Max.Y && i >= 0 {
				img.Set(i, y+t, c)
			}
			if y+h-t >= 0 && y+h-t < bounds.Max.Y && i >= 0 {
				img.Set(i, y+h-t, c)
			}
		}
		for j := y; j < y+h && j < bounds.Max.Y; j++ {
			if x+t >= 0 && x+t < bounds.Max.X && j >= 0 {
				img.Set(x+t, j, c)
			}
			if x+w-t >= 0 && x+w-t < bounds.Max.X && j >= 0 {
				img.Set(x+w-t, j, c)
			}
		}
	}
}

// drawLabel draws text with a dark background strip
func drawLabel(img *image.RGBA, x, y int, label string, c color.NRGBA) {
	if y < 10 {
		y = 10
	}
	if x < 0 {
		x = 0
	}

	bgColor := color.NRGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 12; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			px, py := x+dx, y+dy
			if px >= 0 && px < img.Bounds().Max.X && py >= 0 && py < img.Bounds().Max.Y {
				img.Set(px, py, bgColor)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
