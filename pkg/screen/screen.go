// Package screen shows the controller status on a 128x128 RGB565 framebuffer.
package screen

import (
	"context"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/fogleman/gg"
	"github.com/pkg/errors"

	"github.com/lawndon/go-controller/pkg/lawndon"
)

const (
	Size            = 128
	refreshInterval = 500 * time.Millisecond
	frameBytes      = Size * Size * 2
)

type Screen struct {
	path   string
	logger golog.Logger

	lock   sync.Mutex
	status lawndon.Status
}

func New(path string, logger golog.Logger) *Screen {
	return &Screen{path: path, logger: logger}
}

// Update replaces the status shown on the next refresh.
func (s *Screen) Update(st lawndon.Status) {
	s.lock.Lock()
	s.status = st
	s.lock.Unlock()
}

// Loop redraws the screen until ctx is done, then blanks it.
func (s *Screen) Loop(ctx context.Context) error {
	f, err := os.OpenFile(s.path, os.O_RDWR, 0666)
	if err != nil {
		return errors.Wrapf(err, "open framebuffer %s", s.path)
	}
	defer f.Close()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			var blank [frameBytes]byte
			_, _ = f.WriteAt(blank[:], 0)
			return nil
		case <-ticker.C:
		}
		s.lock.Lock()
		st := s.status
		s.lock.Unlock()

		if _, err := f.WriteAt(Encode(Render(st)), 0); err != nil {
			return errors.Wrap(err, "write framebuffer")
		}
	}
}

// Render draws one frame for st.
func Render(st lawndon.Status) image.Image {
	dc := gg.NewContext(Size, Size)
	dc.SetRGBA(1, 0.9, 0, 1)
	dc.DrawString(strings.ToUpper(st.State.String()), 4, 14)

	dc.Push()
	dc.Translate(90, 5)
	drawPowerBar(dc, st.BatteryLevel, st.BatVoltage, st.Charging)
	dc.Pop()

	dc.SetRGBA(1, 0.9, 0, 1)
	dc.DrawString(fmt.Sprintf("L%4.0f R%4.0f", st.LeftRpm, st.RightRpm), 4, 34)
	dc.DrawString(fmt.Sprintf("MOW %4.0f", st.MowRpm), 4, 48)
	if st.LinkEstablished {
		dc.DrawString(fmt.Sprintf("RSSI %d", st.RSSI), 4, 62)
	}

	y := 80.0
	for _, k := range st.Errors {
		dc.SetRGB(1, 0.2, 0)
		dc.DrawString(k.String(), 4, y)
		y += 12
	}

	if st.Emergency {
		dc.Push()
		dc.Translate(Size-20, Size-20)
		DrawWarning(dc)
		dc.Pop()
	}
	return dc.Image()
}

// Encode packs img into the framebuffer's rotated RGB565 layout.
func Encode(img image.Image) []byte {
	buf := make([]byte, frameBytes)
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			r, g, b, _ := img.At(x, y).RGBA() // 16-bit pre-multiplied

			rb := byte(r >> (16 - 5))
			gb := byte(g >> (16 - 6)) // Green has 6 bits
			bb := byte(b >> (16 - 5))

			buf[(Size-1-y)*2+x*Size*2+1] = (rb << 3) | (gb >> 3)
			buf[(Size-1-y)*2+x*Size*2] = bb | (gb << 5)
		}
	}
	return buf
}

func drawPowerBar(dc *gg.Context, level, voltage float64, charging bool) {
	if level < 0.1 {
		dc.SetRGBA(1, 0.2, 0, 1)
	}
	dc.DrawRectangle(0, 70, 30, 10)
	for n := 2; n < 13; n++ {
		if level >= (float64(n) / 13) {
			dc.DrawRectangle(2, 75-float64(n)*5, 26, 3)
		}
	}
	dc.Fill()
	label := fmt.Sprintf("%.1fv", voltage)
	if charging {
		label += "+"
	}
	dc.DrawString(label, -2, 93)
}

func DrawWarning(dc *gg.Context) {
	dc.SetRGB(1, 0.2, 0)
	dc.DrawRegularPolygon(3, 0, 0, 14, 0)
	dc.Fill()
	dc.SetRGBA(0, 0, 0, 0.9)
	dc.DrawString("!", -3, 3)
}
