package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"vigia/internal/stream"
)

// Op is a drawing command kind.
type Op int

const (
	// OpBlit draws the (possibly rescaled) frame into Rect.
	OpBlit Op = iota
	// OpWash paints a translucent color over Rect.
	OpWash
	// OpBox strokes a rectangle outline.
	OpBox
	// OpLabel draws Text anchored at Rect.Min.
	OpLabel
)

// Command is one drawing instruction against the target surface.
type Command struct {
	Op    Op
	Rect  image.Rectangle
	Color color.NRGBA
	Text  string
}

// Overlay palette.
var (
	colorNormal = color.NRGBA{0, 255, 0, 255}
	colorAlert  = color.NRGBA{220, 53, 69, 255}
	colorSevere = color.NRGBA{176, 0, 32, 255}
	colorWash   = color.NRGBA{255, 0, 0, 70}
	colorText   = color.NRGBA{255, 255, 255, 255}
	colorLowFPS = color.NRGBA{255, 193, 7, 255}
)

const targetAspect = 16.0 / 9.0
const aspectTolerance = 0.01

// Renderer turns a detection snapshot into a drawing command list for a
// fixed 16:9 surface. It is a pure transform: no surface, no side effects.
type Renderer struct {
	Width             int
	Height            int
	SeverityThreshold float64
}

// NewRenderer creates a renderer for a width x height surface. The surface
// is expected to be 16:9.
func NewRenderer(width, height int, severityThreshold float64) *Renderer {
	return &Renderer{Width: width, Height: height, SeverityThreshold: severityThreshold}
}

// Render produces the command list for one frame. frameW and frameH are
// the decoded frame's pixel dimensions.
func (r *Renderer) Render(frameW, frameH int, snap stream.Snapshot) []Command {
	if frameW <= 0 || frameH <= 0 {
		return nil
	}

	// Rescale only when the frame's aspect deviates from 16:9; keep the
	// target height and derive the width from the source aspect.
	dstW, dstH := r.Width, r.Height
	srcAspect := float64(frameW) / float64(frameH)
	if math.Abs(srcAspect-targetAspect) > aspectTolerance {
		dstH = r.Height
		dstW = int(math.Round(float64(dstH) * srcAspect))
		if dstW > r.Width {
			dstW = r.Width
		}
	}

	cmds := []Command{{
		Op:   OpBlit,
		Rect: image.Rect(0, 0, dstW, dstH),
	}}

	if snap.Violence.Detected {
		captionColor := colorAlert
		if snap.Violence.Score >= r.SeverityThreshold {
			captionColor = colorSevere
		}
		cmds = append(cmds,
			Command{Op: OpWash, Rect: image.Rect(0, 0, r.Width, r.Height), Color: colorWash},
			Command{
				Op:    OpLabel,
				Rect:  image.Rect(10, 30, 10, 30),
				Color: captionColor,
				Text:  fmt.Sprintf("ALERTA VIOLENCIA %.1f%%", snap.Violence.Score*100),
			},
		)
	}

	sx := float64(dstW) / float64(frameW)
	sy := float64(dstH) / float64(frameH)
	boxColor := colorNormal
	if snap.Violence.Detected {
		boxColor = colorAlert
	}
	for _, det := range snap.Detections {
		x := int(math.Round(det.X * sx))
		y := int(math.Round(det.Y * sy))
		w := int(math.Round(det.W * sx))
		h := int(math.Round(det.H * sy))
		cmds = append(cmds,
			Command{Op: OpBox, Rect: image.Rect(x, y, x+w, y+h), Color: boxColor},
			Command{
				Op:    OpLabel,
				Rect:  image.Rect(x, y-5, x, y-5),
				Color: boxColor,
				Text:  fmt.Sprintf("ID: %d", det.ID),
			},
		)
	}

	fpsColor := colorText
	if snap.FPSLow {
		fpsColor = colorLowFPS
	}
	cmds = append(cmds, Command{
		Op:    OpLabel,
		Rect:  image.Rect(10, r.Height-20, 10, r.Height-20),
		Color: fpsColor,
		Text:  fmt.Sprintf("FPS: %.1f", snap.FPS),
	})

	return cmds
}
