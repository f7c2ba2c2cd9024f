// Package frame drives outputs as bytes of an RGB frame, pushed to a
// display.Drawer once per tick. Output n is channel n%3 of pixel n/3, so a
// unit with pins [3i, 3i+1, 3i+2] maps to pixel i.
package frame

import (
	"fmt"
	"image"
	"io"
	"math"

	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/extra/devices/screen"
)

type Sink struct {
	name   string
	dev    display.Drawer
	closer io.Closer
	img    *image.NRGBA
}

// New returns a Sink drawing pixels pixels to dev.
func New(name string, dev display.Drawer, pixels int) *Sink {
	img := image.NewNRGBA(image.Rect(0, 0, pixels, 1))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return &Sink{
		name: name,
		dev:  dev,
		img:  img,
	}
}

// NewStrip opens the SPI port (empty for the first one) and drives a
// WS281x style strip on it.
func NewStrip(port string, pixels int) (*Sink, error) {
	p, err := spireg.Open(port)
	if err != nil {
		return nil, fmt.Errorf("unable to open spi port %q: %w", port, err)
	}
	d, err := nrzled.NewSPI(p, &nrzled.Opts{
		NumPixels: pixels,
		Channels:  3,
		Freq:      2500 * physic.KiloHertz,
	})
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("unable to create strip: %w", err)
	}

	s := New("strip", d, pixels)
	s.closer = p
	return s, nil
}

// NewScreen prints the frame to the terminal.
func NewScreen(pixels int) *Sink {
	return New("screen", screen.New(pixels), pixels)
}

// Pixels returns the number of pixels needed for the given outputs.
func Pixels(outputs []int) int {
	n := 0
	for _, o := range outputs {
		if o/3+1 > n {
			n = o/3 + 1
		}
	}
	return n
}

func (s *Sink) offset(output int) (int, error) {
	if output < 0 || output >= 3*s.img.Rect.Dx() {
		return 0, fmt.Errorf("output %d outside of frame of %d pixels", output, s.img.Rect.Dx())
	}
	return 4*(output/3) + output%3, nil
}

// Setup implements led.Sink.
func (s *Sink) Setup(output int) error {
	_, err := s.offset(output)
	return err
}

// Set implements led.Sink.
func (s *Sink) Set(output int, level float64) error {
	off, err := s.offset(output)
	if err != nil {
		return err
	}
	s.img.Pix[off] = uint8(math.Round(math.Min(math.Max(level, 0), 255)))
	return nil
}

func (s *Sink) Flush() error {
	if err := s.dev.Draw(s.dev.Bounds(), s.img, image.Point{}); err != nil {
		return fmt.Errorf("unable to draw frame: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	for i := range s.img.Pix {
		if i%4 != 3 {
			s.img.Pix[i] = 0
		}
	}
	err := s.Flush()
	if herr := s.dev.Halt(); herr != nil && err == nil {
		err = herr
	}
	if s.closer != nil {
		if cerr := s.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (s *Sink) String() string {
	return fmt.Sprintf("%s(%s)", s.name, s.dev)
}
