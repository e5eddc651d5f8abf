// Package co5300 controls a CO5300 AMOLED display controller via SPI.
//
// The CO5300 drives round 1.43" 466x466 AMOLED panels (e.g. the Waveshare
// ESP32-S3 Touch AMOLED board). It has no D/C pin: every transfer starts
// with a 0x02 framing byte followed by the command opcode, so commands and
// pixel data travel over the same lines. The panel exposes no pixel
// readback, and its RAM refuses writes whose window has an odd origin or an
// odd extent. Both quirks are handled here with a full-frame software
// framebuffer that mirrors the displayed image: requested regions are
// expanded to the even-aligned superset and the border pixels are sourced
// from the mirror.
package co5300

import (
	"errors"
	"fmt"
	"image"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Panel geometry for the 1.43" module.
const (
	Width  = 466
	Height = 466
)

// Command opcodes (MIPI DCS subset plus CO5300 vendor registers).
const (
	cmdSWRESET = 0x01
	cmdSLPIN   = 0x10
	cmdSLPOUT  = 0x11
	cmdNORON   = 0x13
	cmdDISPOFF = 0x28
	cmdDISPON  = 0x29
	cmdCASET   = 0x2A
	cmdRASET   = 0x2B
	cmdRAMWR   = 0x2C
	cmdMADCTL  = 0x36
	cmdCOLMOD  = 0x3A
	cmdWRDISBV = 0x51
	cmdWRCTRLD = 0x53
	cmdVENDEN  = 0x63
	cmdSPIMODE = 0xC4
)

// RGB565 is one packed 5-6-5 pixel in native (host) order. On the wire the
// panel wants the high byte first.
type RGB565 uint16

// ToRGB565 packs 8-bit channels into a 5-6-5 pixel.
func ToRGB565(r, g, b uint8) RGB565 {
	return RGB565(uint16(r&0xF8)<<8 | uint16(g&0xFC)<<3 | uint16(b)>>3)
}

// RGB expands the color back to 8-bit channels, replicating the high bits
// into the low ones so full-scale values round-trip.
func (c RGB565) RGB() (r, g, b uint8) {
	r = uint8(c>>11) << 3
	r |= r >> 5
	g = uint8(c>>5&0x3F) << 2
	g |= g >> 6
	b = uint8(c&0x1F) << 3
	b |= b >> 5
	return
}

// Command is one entry of a controller bring-up table: an opcode, its
// parameter bytes and the settle time the datasheet requires afterwards.
type Command struct {
	Op    byte
	Data  []byte
	Delay time.Duration
}

// initSequence is the bring-up table for the 1.43" CO5300 module. The values
// are datasheet/bring-up constants, not logic; do not reorder.
var initSequence = []Command{
	{Op: cmdSWRESET, Delay: 10 * time.Millisecond},
	{Op: cmdSLPOUT, Delay: 120 * time.Millisecond},
	{Op: cmdCOLMOD, Data: []byte{0x55}}, // 16bpp RGB565
	{Op: cmdSPIMODE, Data: []byte{0x80}},
	{Op: cmdNORON},
	{Op: cmdWRCTRLD, Data: []byte{0x20}, Delay: time.Millisecond},
	{Op: cmdVENDEN, Data: []byte{0xFF}, Delay: time.Millisecond},
	{Op: cmdWRDISBV, Data: []byte{0x00}, Delay: time.Millisecond},
	{Op: cmdDISPON, Delay: 30 * time.Millisecond},
	{Op: cmdWRDISBV, Data: []byte{0xFF}},
	{Op: cmdMADCTL, Data: []byte{0x00}},
}

// Opts is the configuration for the CO5300 display.
type Opts struct {
	W int // Width in pixels (default: 466, must be even)
	H int // Height in pixels (default: 466, must be even)

	// Panel RAM offset of the visible area. The 1.43" module maps column 0
	// to RAM column 6.
	XOffset int
	YOffset int

	RST gpio.PinIO // Reset pin (optional, nil if not wired)

	Brightness byte // Initial brightness (0 keeps the table default of max)
}

// DefaultOpts returns the options for the 1.43" 466x466 module.
func DefaultOpts() *Opts {
	return &Opts{W: Width, H: Height, XOffset: 0x06, YOffset: 0x00}
}

// Dev is the device handle for a CO5300 panel.
type Dev struct {
	// Communication
	c   conn.Conn
	rst gpio.PinIO

	// Display geometry
	rect image.Rectangle
	xOff int
	yOff int

	// Full-frame mirror of the panel RAM, row-major, native order. This is
	// the only readable copy of what the panel shows.
	fb []RGB565

	halted bool
}

// NewSPI opens the port at 40MHz Mode0 and initializes the panel.
//
// The lane count (single vs quad) is a property of the port binding, not of
// this driver; the framing is identical either way.
func NewSPI(p spi.Port, opts *Opts) (*Dev, error) {
	c, err := p.Connect(40*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("co5300: spi connect: %w", err)
	}
	return New(c, opts)
}

// New initializes the panel over an already-established connection.
func New(c conn.Conn, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = DefaultOpts()
	}
	if opts.W <= 0 || opts.W%2 != 0 || opts.H <= 0 || opts.H%2 != 0 {
		return nil, errors.New("co5300: width and height must be positive and even")
	}

	d := &Dev{
		c:    c,
		rst:  opts.RST,
		rect: image.Rect(0, 0, opts.W, opts.H),
		xOff: opts.XOffset,
		yOff: opts.YOffset,
		fb:   make([]RGB565, opts.W*opts.H),
	}

	if err := d.init(opts); err != nil {
		return nil, err
	}
	return d, nil
}

// init runs the hardware reset and the bring-up table.
func (d *Dev) init(opts *Opts) error {
	if d.rst != nil {
		if err := d.rst.Out(gpio.High); err != nil {
			return fmt.Errorf("co5300: reset pin: %w", err)
		}
		time.Sleep(time.Millisecond)
		if err := d.rst.Out(gpio.Low); err != nil {
			return fmt.Errorf("co5300: reset pin: %w", err)
		}
		time.Sleep(50 * time.Millisecond)
		if err := d.rst.Out(gpio.High); err != nil {
			return fmt.Errorf("co5300: reset pin: %w", err)
		}
		time.Sleep(150 * time.Millisecond)
	}

	for _, cmd := range initSequence {
		if err := d.sendCommand(cmd.Op, cmd.Data); err != nil {
			return err
		}
		if cmd.Delay > 0 {
			time.Sleep(cmd.Delay)
		}
	}

	// Open the full window once so the panel is in a known addressing state.
	if err := d.setWindow(d.rect); err != nil {
		return err
	}
	if opts.Brightness > 0 {
		if err := d.SetBrightness(opts.Brightness); err != nil {
			return err
		}
	}
	return nil
}

// sendCommand writes one addressed command with its parameter bytes. The
// CO5300 framing is 0x02 0x00 <op> 0x00 followed by the data, all in a
// single chip-select assertion.
func (d *Dev) sendCommand(op byte, data []byte) error {
	buf := make([]byte, 4+len(data))
	buf[0] = 0x02
	buf[2] = op
	copy(buf[4:], data)
	if err := d.c.Tx(buf, nil); err != nil {
		return fmt.Errorf("co5300: cmd 0x%02X: %w", op, err)
	}
	return nil
}

// setWindow programs the controller's write window. r must already be
// even-aligned and inside the panel; callers in this package guarantee both.
// Coordinates are translated by the panel RAM offset and sent inclusive.
func (d *Dev) setWindow(r image.Rectangle) error {
	x0 := r.Min.X + d.xOff
	x1 := r.Max.X - 1 + d.xOff
	y0 := r.Min.Y + d.yOff
	y1 := r.Max.Y - 1 + d.yOff

	ca := []byte{byte(x0 >> 8), byte(x0), byte(x1 >> 8), byte(x1)}
	ra := []byte{byte(y0 >> 8), byte(y0), byte(y1 >> 8), byte(y1)}
	if err := d.sendCommand(cmdCASET, ca); err != nil {
		return err
	}
	return d.sendCommand(cmdRASET, ra)
}

// streamPixels sends one RAMWR burst matching the current window. Blocks for
// the duration of the transfer.
func (d *Dev) streamPixels(data []byte) error {
	buf := make([]byte, 4+len(data))
	buf[0] = 0x02
	buf[2] = cmdRAMWR
	copy(buf[4:], data)
	if err := d.c.Tx(buf, nil); err != nil {
		return fmt.Errorf("co5300: ramwr (%d bytes): %w", len(data), err)
	}
	return nil
}

// alignRect returns the minimal superset of r with even origin and even
// extent. Expansion always extends toward the higher coordinate; with even
// panel dimensions the result stays inside the panel whenever r does.
func alignRect(r image.Rectangle) image.Rectangle {
	return image.Rectangle{
		Min: image.Point{X: r.Min.X &^ 1, Y: r.Min.Y &^ 1},
		Max: image.Point{X: ((r.Max.X - 1) | 1) + 1, Y: ((r.Max.Y - 1) | 1) + 1},
	}
}

// checkRect validates a caller-supplied region.
func (d *Dev) checkRect(r image.Rectangle) error {
	if d.halted {
		return errors.New("co5300: halted")
	}
	if !r.In(d.rect) {
		return fmt.Errorf("co5300: region %v outside panel %v", r, d.rect)
	}
	return nil
}

// FlushRect writes pix (exactly covering r, row-major, native order) to the
// panel. The region may have any alignment: the write is expanded to the
// even-aligned superset, border pixels are filled from the framebuffer, and
// the framebuffer is updated so it keeps mirroring the panel.
func (d *Dev) FlushRect(r image.Rectangle, pix []RGB565) error {
	if r.Empty() {
		return nil
	}
	if err := d.checkRect(r); err != nil {
		return err
	}
	if len(pix) != r.Dx()*r.Dy() {
		return fmt.Errorf("co5300: pixel buffer is %d entries, region needs %d", len(pix), r.Dx()*r.Dy())
	}

	a := alignRect(r)
	fbw := d.rect.Dx()
	buf := make([]byte, a.Dx()*a.Dy()*2)
	i := 0
	for y := a.Min.Y; y < a.Max.Y; y++ {
		for x := a.Min.X; x < a.Max.X; x++ {
			var v RGB565
			if x >= r.Min.X && x < r.Max.X && y >= r.Min.Y && y < r.Max.Y {
				v = pix[(y-r.Min.Y)*r.Dx()+(x-r.Min.X)]
			} else {
				v = d.fb[y*fbw+x]
			}
			buf[i] = byte(v >> 8)
			buf[i+1] = byte(v)
			i += 2
		}
	}

	if err := d.setWindow(a); err != nil {
		return err
	}
	if err := d.streamPixels(buf); err != nil {
		return err
	}

	// Border pixels already equal the mirror, so syncing the requested
	// region re-establishes the invariant for the whole superset.
	for y := r.Min.Y; y < r.Max.Y; y++ {
		copy(d.fb[y*fbw+r.Min.X:y*fbw+r.Max.X], pix[(y-r.Min.Y)*r.Dx():(y-r.Min.Y+1)*r.Dx()])
	}
	return nil
}

// FillRect paints the even-aligned superset of r with a solid color. Note
// that the superset border (at most one pixel per side) is painted too.
//
// With sync=false the framebuffer is left stale for the superset: the caller
// must fully overwrite that area with an aligned write before anything reads
// it back from the framebuffer, or the panel will show stale border pixels
// on the next expanded flush. Intended for full-screen clears that are
// immediately covered by a full blit.
func (d *Dev) FillRect(r image.Rectangle, c RGB565, sync bool) error {
	if r.Empty() {
		return nil
	}
	if err := d.checkRect(r); err != nil {
		return err
	}

	a := alignRect(r)
	hi, lo := byte(c>>8), byte(c)
	buf := make([]byte, a.Dx()*a.Dy()*2)
	for i := 0; i < len(buf); i += 2 {
		buf[i] = hi
		buf[i+1] = lo
	}

	if err := d.setWindow(a); err != nil {
		return err
	}
	if err := d.streamPixels(buf); err != nil {
		return err
	}

	if sync {
		fbw := d.rect.Dx()
		for y := a.Min.Y; y < a.Max.Y; y++ {
			row := d.fb[y*fbw+a.Min.X : y*fbw+a.Max.X]
			for i := range row {
				row[i] = c
			}
		}
	}
	return nil
}

// BlitRect streams a pre-formatted image (r.Dx()*r.Dy()*2 bytes, row-major,
// big-endian RGB565) to the panel. This is the throughput path for animation
// frames and app art: when r is already even-aligned the input bytes go out
// as a single burst with no per-pixel work.
//
// The sync contract matches FillRect: sync=false skips the framebuffer
// write-back and leaves the region stale.
func (d *Dev) BlitRect(r image.Rectangle, data []byte, sync bool) error {
	if r.Empty() {
		return nil
	}
	if err := d.checkRect(r); err != nil {
		return err
	}
	if len(data) != r.Dx()*r.Dy()*2 {
		return fmt.Errorf("co5300: image is %d bytes, region needs %d", len(data), r.Dx()*r.Dy()*2)
	}

	a := alignRect(r)
	fbw := d.rect.Dx()

	buf := data
	if a != r {
		// Compose the superset: image bytes at their true offsets, border
		// sourced from the framebuffer.
		buf = make([]byte, a.Dx()*a.Dy()*2)
		i := 0
		srcStride := r.Dx() * 2
		for y := a.Min.Y; y < a.Max.Y; y++ {
			for x := a.Min.X; x < a.Max.X; x++ {
				if x >= r.Min.X && x < r.Max.X && y >= r.Min.Y && y < r.Max.Y {
					off := (y-r.Min.Y)*srcStride + (x-r.Min.X)*2
					buf[i] = data[off]
					buf[i+1] = data[off+1]
				} else {
					v := d.fb[y*fbw+x]
					buf[i] = byte(v >> 8)
					buf[i+1] = byte(v)
				}
				i += 2
			}
		}
	}

	if err := d.setWindow(a); err != nil {
		return err
	}
	if err := d.streamPixels(buf); err != nil {
		return err
	}

	if sync {
		srcStride := r.Dx() * 2
		for y := r.Min.Y; y < r.Max.Y; y++ {
			off := (y - r.Min.Y) * srcStride
			for x := r.Min.X; x < r.Max.X; x++ {
				d.fb[y*fbw+x] = RGB565(uint16(data[off])<<8 | uint16(data[off+1]))
				off += 2
			}
		}
	}
	return nil
}

// SetBrightness sets the panel brightness register (0x00..0xFF).
func (d *Dev) SetBrightness(level byte) error {
	if d.halted {
		return errors.New("co5300: halted")
	}
	return d.sendCommand(cmdWRDISBV, []byte{level})
}

// SetPower blanks or unblanks the panel. Powering off enters sleep; powering
// on re-asserts pixel format and orientation since some panels lose them in
// sleep. The framebuffer keeps mirroring panel RAM across the transition.
func (d *Dev) SetPower(on bool) error {
	if d.halted {
		return errors.New("co5300: halted")
	}
	if !on {
		if err := d.sendCommand(cmdDISPOFF, nil); err != nil {
			return err
		}
		if err := d.sendCommand(cmdSLPIN, nil); err != nil {
			return err
		}
		time.Sleep(120 * time.Millisecond)
		return nil
	}
	if err := d.sendCommand(cmdSLPOUT, nil); err != nil {
		return err
	}
	time.Sleep(120 * time.Millisecond)
	if err := d.sendCommand(cmdCOLMOD, []byte{0x55}); err != nil {
		return err
	}
	if err := d.sendCommand(cmdMADCTL, []byte{0x00}); err != nil {
		return err
	}
	if err := d.sendCommand(cmdDISPON, nil); err != nil {
		return err
	}
	time.Sleep(10 * time.Millisecond)
	return nil
}

// Bounds returns the panel bounds.
func (d *Dev) Bounds() image.Rectangle {
	return d.rect
}

// PixelAt reads one pixel from the software framebuffer. This is the only
// readback the hardware design permits; it reflects the panel unless the
// coordinate sits in a region a sync=false caller left stale.
func (d *Dev) PixelAt(x, y int) RGB565 {
	return d.fb[y*d.rect.Dx()+x]
}

// Halt powers off the display. The device does not respond to further
// operations until re-initialized.
func (d *Dev) Halt() error {
	if err := d.sendCommand(cmdDISPOFF, nil); err != nil {
		return err
	}
	d.halted = true
	return nil
}

// String returns a string representation of the device.
func (d *Dev) String() string {
	return fmt.Sprintf("co5300.Dev{%dx%d}", d.rect.Dx(), d.rect.Dy())
}
