package main

import (
	"fmt"
	"sync"

	"github.com/gdamore/tcell/v2"

	"periph.io/x/conn/v3"

	"github.com/omniwatch/omniwatch_display/co5300"
)

// SimPanel emulates the panel controller behind the SPI bus: it implements
// conn.Conn, decodes the 0x02/0x00 command framing the driver emits, and
// renders the resulting pixel state into a terminal with tcell. It doubles as
// the input source, mapping terminal keys onto the watch controls.
type SimPanel struct {
	mu   sync.Mutex
	pix  []uint16 // native RGB565, panel coordinates
	w, h int
	xOff int
	yOff int

	winX0, winX1 int // current window, inclusive, offset already removed
	winY0, winY1 int

	brightness byte
	displayOn  bool
	dirty      bool

	screen tcell.Screen
}

// NewSimPanel initializes the terminal and returns the simulated panel.
// xOff and yOff must match the driver's RAM offsets so addressed windows map
// back to panel coordinates.
func NewSimPanel(w, h, xOff, yOff int) (*SimPanel, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	screen.SetStyle(tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorWhite))
	screen.Clear()

	return &SimPanel{
		pix:        make([]uint16, w*h),
		w:          w,
		h:          h,
		xOff:       xOff,
		yOff:       yOff,
		winX1:      w - 1,
		winY1:      h - 1,
		brightness: 0xFF,
		screen:     screen,
		dirty:      true,
	}, nil
}

// Tx decodes one driver transaction. Reads are not supported, matching the
// write-only controller.
func (s *SimPanel) Tx(w, r []byte) error {
	if len(r) != 0 {
		return fmt.Errorf("sim: read not supported")
	}
	if len(w) < 4 || w[0] != 0x02 || w[1] != 0x00 || w[3] != 0x00 {
		return fmt.Errorf("sim: bad command framing % x", w[:min(len(w), 4)])
	}
	op := w[2]
	data := w[4:]

	s.mu.Lock()
	defer s.mu.Unlock()

	switch op {
	case 0x2A: // CASET
		if len(data) != 4 {
			return fmt.Errorf("sim: CASET wants 4 bytes, got %d", len(data))
		}
		s.winX0 = (int(data[0])<<8 | int(data[1])) - s.xOff
		s.winX1 = (int(data[2])<<8 | int(data[3])) - s.xOff
	case 0x2B: // RASET
		if len(data) != 4 {
			return fmt.Errorf("sim: RASET wants 4 bytes, got %d", len(data))
		}
		s.winY0 = (int(data[0])<<8 | int(data[1])) - s.yOff
		s.winY1 = (int(data[2])<<8 | int(data[3])) - s.yOff
	case 0x2C: // RAMWR
		if len(data)%2 != 0 {
			return fmt.Errorf("sim: odd RAMWR payload %d", len(data))
		}
		s.writePixels(data)
		s.dirty = true
	case 0x51: // WRDISBV
		if len(data) == 1 {
			s.brightness = data[0]
			s.dirty = true
		}
	case 0x29: // DISPON
		s.displayOn = true
		s.dirty = true
	case 0x28: // DISPOFF
		s.displayOn = false
		s.dirty = true
	default:
		// Bring-up commands carry no visible state.
	}
	return nil
}

func (s *SimPanel) Duplex() conn.Duplex {
	return conn.Half
}

func (s *SimPanel) String() string {
	return fmt.Sprintf("sim{%dx%d}", s.w, s.h)
}

// writePixels fills the current window row-major with big-endian RGB565.
func (s *SimPanel) writePixels(data []byte) {
	x, y := s.winX0, s.winY0
	for i := 0; i+1 < len(data); i += 2 {
		if x >= 0 && x < s.w && y >= 0 && y < s.h {
			s.pix[y*s.w+x] = uint16(data[i])<<8 | uint16(data[i+1])
		}
		x++
		if x > s.winX1 {
			x = s.winX0
			y++
			if y > s.winY1 {
				return
			}
		}
	}
}

// Update drains terminal input into the pending slots and repaints the
// terminal if the pixel state changed. It returns false when the user quit.
// Called from the main loop, never concurrently with itself.
func (s *SimPanel) Update(pending *PendingInput) bool {
	for s.screen.HasPendingEvent() {
		ev := s.screen.PollEvent()
		switch ev := ev.(type) {
		case *tcell.EventKey:
			if !s.handleKey(ev, pending) {
				return false
			}
		case *tcell.EventResize:
			s.screen.Sync()
			s.mu.Lock()
			s.dirty = true
			s.mu.Unlock()
		}
	}
	s.draw()
	return true
}

func (s *SimPanel) handleKey(ev *tcell.EventKey, pending *PendingInput) bool {
	switch ev.Key() {
	case tcell.KeyLeft, tcell.KeyDown:
		pending.AddDelta(-1)
	case tcell.KeyRight, tcell.KeyUp:
		pending.AddDelta(1)
	case tcell.KeyEnter:
		pending.PressSelect()
	case tcell.KeyEscape:
		pending.PressBack()
	case tcell.KeyCtrlC:
		return false
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'b':
			pending.HoldBack()
		case 'g':
			pending.Gesture()
		case 'q':
			return false
		}
	}
	return true
}

// draw renders the panel with half-block cells, two pixels per terminal row.
func (s *SimPanel) draw() {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	s.dirty = false

	termW, termH := s.screen.Size()
	cols := termW
	rows := termH * 2
	sx := (s.w + cols - 1) / cols
	sy := (s.h + rows - 1) / rows
	step := max(sx, sy)
	if step < 1 {
		step = 1
	}

	for cy := 0; cy*2*step < s.h; cy++ {
		for cx := 0; cx*step < s.w; cx++ {
			top := s.sample(cx*step, cy*2*step)
			bot := s.sample(cx*step, (cy*2+1)*step)
			style := tcell.StyleDefault.Foreground(top).Background(bot)
			s.screen.SetContent(cx, cy, '▀', nil, style)
		}
	}
	s.mu.Unlock()

	s.screen.Show()
}

// sample maps one panel pixel to a terminal color, applying display state and
// brightness. Caller holds the mutex.
func (s *SimPanel) sample(x, y int) tcell.Color {
	if !s.displayOn || x >= s.w || y >= s.h {
		return tcell.ColorBlack
	}
	c := co5300.RGB565(s.pix[y*s.w+x])
	r, g, b := c.RGB()
	scale := int32(s.brightness)
	return tcell.NewRGBColor(
		int32(r)*scale/255,
		int32(g)*scale/255,
		int32(b)*scale/255,
	)
}

// PixelAt returns the simulated panel pixel, for tests.
func (s *SimPanel) PixelAt(x, y int) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pix[y*s.w+x]
}

// Close releases the terminal.
func (s *SimPanel) Close() {
	s.screen.Fini()
}
