package co5300

import (
	"errors"
	"image"
	"testing"

	"periph.io/x/conn/v3"
)

// fakeConn records every framed transfer the driver makes.
type fakeConn struct {
	ops  []txOp
	fail error
}

type txOp struct {
	op   byte
	data []byte
}

func (f *fakeConn) Tx(w, r []byte) error {
	if f.fail != nil {
		return f.fail
	}
	if len(w) < 4 || w[0] != 0x02 || w[1] != 0x00 || w[3] != 0x00 {
		return errors.New("bad 0x02 framing")
	}
	f.ops = append(f.ops, txOp{op: w[2], data: append([]byte(nil), w[4:]...)})
	return nil
}

func (f *fakeConn) String() string      { return "fakeConn" }
func (f *fakeConn) Duplex() conn.Duplex { return conn.Half }

// lastWindow returns the most recent CASET/RASET pair as an exclusive
// rectangle, or a zero rect if none was programmed.
func (f *fakeConn) lastWindow() image.Rectangle {
	var ca, ra []byte
	for _, op := range f.ops {
		switch op.op {
		case cmdCASET:
			ca = op.data
		case cmdRASET:
			ra = op.data
		}
	}
	if ca == nil || ra == nil {
		return image.Rectangle{}
	}
	x0 := int(ca[0])<<8 | int(ca[1])
	x1 := int(ca[2])<<8 | int(ca[3])
	y0 := int(ra[0])<<8 | int(ra[1])
	y1 := int(ra[2])<<8 | int(ra[3])
	return image.Rect(x0, y0, x1+1, y1+1)
}

// lastStream returns the payload of the most recent RAMWR burst.
func (f *fakeConn) lastStream() []byte {
	for i := len(f.ops) - 1; i >= 0; i-- {
		if f.ops[i].op == cmdRAMWR {
			return f.ops[i].data
		}
	}
	return nil
}

// testDev builds a small panel with zero RAM offsets so window assertions
// read directly in panel coordinates.
func testDev(t *testing.T, w, h int) (*Dev, *fakeConn) {
	t.Helper()
	fc := &fakeConn{}
	d, err := New(fc, &Opts{W: w, H: h})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fc.ops = nil // drop the init traffic
	return d, fc
}

func TestAlignRect(t *testing.T) {
	tests := []struct {
		name string
		in   image.Rectangle
		want image.Rectangle
	}{
		{"already aligned", image.Rect(2, 4, 10, 8), image.Rect(2, 4, 10, 8)},
		{"odd origin", image.Rect(3, 5, 10, 8), image.Rect(2, 4, 10, 8)},
		{"odd extent", image.Rect(2, 4, 9, 7), image.Rect(2, 4, 10, 8)},
		{"single odd pixel", image.Rect(3, 3, 4, 4), image.Rect(2, 2, 4, 4)},
		{"single even pixel", image.Rect(4, 4, 5, 5), image.Rect(4, 4, 6, 6)},
		{"one axis odd", image.Rect(0, 1, 2, 2), image.Rect(0, 0, 2, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := alignRect(tt.in)
			if got != tt.want {
				t.Errorf("alignRect(%v) = %v, want %v", tt.in, got, tt.want)
			}
			if got.Min.X%2 != 0 || got.Min.Y%2 != 0 || got.Dx()%2 != 0 || got.Dy()%2 != 0 {
				t.Errorf("alignRect(%v) = %v is not even-aligned", tt.in, got)
			}
			if !tt.in.In(got) {
				t.Errorf("alignRect(%v) = %v does not contain the input", tt.in, got)
			}
		})
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		opts    *Opts
		wantErr bool
	}{
		{"nil options (466x466 defaults)", nil, false},
		{"valid small panel", &Opts{W: 8, H: 8}, false},
		{"odd width", &Opts{W: 7, H: 8}, true},
		{"odd height", &Opts{W: 8, H: 7}, true},
		{"zero width", &Opts{W: 0, H: 8}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&fakeConn{}, tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInitSequence(t *testing.T) {
	fc := &fakeConn{}
	if _, err := New(fc, &Opts{W: 8, H: 8}); err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(fc.ops) == 0 || fc.ops[0].op != cmdSWRESET {
		t.Fatal("init must start with SWRESET")
	}
	seen := map[byte]bool{}
	for _, op := range fc.ops {
		seen[op.op] = true
	}
	for _, want := range []byte{cmdSLPOUT, cmdCOLMOD, cmdNORON, cmdDISPON, cmdMADCTL, cmdCASET, cmdRASET} {
		if !seen[want] {
			t.Errorf("init sequence missing command 0x%02X", want)
		}
	}
	if got, want := fc.lastWindow(), image.Rect(0, 0, 8, 8); got != want {
		t.Errorf("init window = %v, want full panel %v", got, want)
	}
}

// Every region that reaches the panel must have an even origin and even
// width/height, and contain the requested region.
func TestWindowAlignmentInvariant(t *testing.T) {
	regions := []image.Rectangle{
		image.Rect(0, 0, 8, 8),
		image.Rect(1, 1, 2, 2),
		image.Rect(3, 0, 8, 5),
		image.Rect(1, 2, 6, 7),
		image.Rect(5, 5, 6, 8),
	}
	for _, r := range regions {
		d, fc := testDev(t, 8, 8)
		pix := make([]RGB565, r.Dx()*r.Dy())
		if err := d.FlushRect(r, pix); err != nil {
			t.Fatalf("FlushRect(%v): %v", r, err)
		}
		w := fc.lastWindow()
		if w.Min.X%2 != 0 || w.Min.Y%2 != 0 || w.Dx()%2 != 0 || w.Dy()%2 != 0 {
			t.Errorf("region %v: panel window %v not even-aligned", r, w)
		}
		if !r.In(w) {
			t.Errorf("region %v: panel window %v does not contain it", r, w)
		}
		if got, want := len(fc.lastStream()), w.Dx()*w.Dy()*2; got != want {
			t.Errorf("region %v: streamed %d bytes, window needs %d", r, got, want)
		}
	}
}

// Scenario: flushing the single odd pixel (3,3) expands to the 2x2 write
// {2,2}..{4,4} with the three untouched pixels sourced from the framebuffer.
func TestFlushRectOddPixelExpansion(t *testing.T) {
	d, fc := testDev(t, 8, 8)

	bg := ToRGB565(0x00, 0xFF, 0x00)
	if err := d.FillRect(d.Bounds(), bg, true); err != nil {
		t.Fatalf("FillRect: %v", err)
	}

	red := ToRGB565(0xFF, 0x00, 0x00)
	if err := d.FlushRect(image.Rect(3, 3, 4, 4), []RGB565{red}); err != nil {
		t.Fatalf("FlushRect: %v", err)
	}

	if got, want := fc.lastWindow(), image.Rect(2, 2, 4, 4); got != want {
		t.Fatalf("window = %v, want %v", got, want)
	}

	stream := fc.lastStream()
	if len(stream) != 8 {
		t.Fatalf("streamed %d bytes, want 8 (2x2 RGB565)", len(stream))
	}
	px := func(i int) RGB565 { return RGB565(uint16(stream[i*2])<<8 | uint16(stream[i*2+1])) }
	// Order within the window: (2,2) (3,2) (2,3) (3,3).
	for i, want := range []RGB565{bg, bg, bg, red} {
		if px(i) != want {
			t.Errorf("superset pixel %d = %04X, want %04X", i, px(i), want)
		}
	}

	// Round-trip: the framebuffer holds the new pixel, the border keeps the
	// pre-existing values.
	if d.PixelAt(3, 3) != red {
		t.Error("framebuffer did not take the flushed pixel")
	}
	for _, p := range []image.Point{{2, 2}, {3, 2}, {2, 3}} {
		if d.PixelAt(p.X, p.Y) != bg {
			t.Errorf("framebuffer border %v = %04X, want %04X", p, d.PixelAt(p.X, p.Y), bg)
		}
	}
}

func TestFlushRectRoundTrip(t *testing.T) {
	d, _ := testDev(t, 8, 8)

	r := image.Rect(1, 2, 6, 7)
	pix := make([]RGB565, r.Dx()*r.Dy())
	for i := range pix {
		pix[i] = RGB565(i + 1)
	}
	if err := d.FlushRect(r, pix); err != nil {
		t.Fatalf("FlushRect: %v", err)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			want := pix[(y-r.Min.Y)*r.Dx()+(x-r.Min.X)]
			if got := d.PixelAt(x, y); got != want {
				t.Fatalf("PixelAt(%d,%d) = %04X, want %04X", x, y, got, want)
			}
		}
	}
}

func TestFillRectSyncContract(t *testing.T) {
	d, fc := testDev(t, 8, 8)

	c := ToRGB565(0xFF, 0xFF, 0xFF)
	if err := d.FillRect(image.Rect(0, 0, 4, 4), c, true); err != nil {
		t.Fatalf("FillRect sync: %v", err)
	}
	if d.PixelAt(0, 0) != c || d.PixelAt(3, 3) != c {
		t.Error("sync=true fill must update the framebuffer")
	}

	d2, _ := testDev(t, 8, 8)
	if err := d2.FillRect(image.Rect(0, 0, 4, 4), c, false); err != nil {
		t.Fatalf("FillRect skip-sync: %v", err)
	}
	if d2.PixelAt(0, 0) != 0 {
		t.Error("sync=false fill must leave the framebuffer untouched")
	}

	// The panel write itself is identical either way.
	if got, want := len(fc.lastStream()), 4*4*2; got != want {
		t.Errorf("streamed %d bytes, want %d", got, want)
	}
}

func TestBlitRectAlignedPassThrough(t *testing.T) {
	d, fc := testDev(t, 8, 8)

	r := image.Rect(2, 2, 6, 4)
	data := make([]byte, r.Dx()*r.Dy()*2)
	for i := range data {
		data[i] = byte(i)
	}
	if err := d.BlitRect(r, data, true); err != nil {
		t.Fatalf("BlitRect: %v", err)
	}
	stream := fc.lastStream()
	if len(stream) != len(data) {
		t.Fatalf("aligned blit streamed %d bytes, want %d", len(stream), len(data))
	}
	for i := range data {
		if stream[i] != data[i] {
			t.Fatal("aligned blit must stream the input bytes unmodified")
		}
	}
	if d.PixelAt(2, 2) != RGB565(uint16(data[0])<<8|uint16(data[1])) {
		t.Error("sync=true blit must update the framebuffer")
	}
}

func TestBlitRectUnalignedBorderFromFramebuffer(t *testing.T) {
	d, fc := testDev(t, 8, 8)

	bg := ToRGB565(0x00, 0x00, 0xFF)
	if err := d.FillRect(d.Bounds(), bg, true); err != nil {
		t.Fatalf("FillRect: %v", err)
	}

	r := image.Rect(3, 3, 5, 5) // odd origin, even extent
	data := make([]byte, r.Dx()*r.Dy()*2)
	for i := 0; i < len(data); i += 2 {
		data[i], data[i+1] = 0xAB, 0xCD
	}
	if err := d.BlitRect(r, data, true); err != nil {
		t.Fatalf("BlitRect: %v", err)
	}

	w := fc.lastWindow()
	if w != image.Rect(2, 2, 6, 6) {
		t.Fatalf("window = %v, want {2,2}..{6,6}", w)
	}
	stream := fc.lastStream()
	// First pixel of the superset is border and must carry the old color.
	if got := RGB565(uint16(stream[0])<<8 | uint16(stream[1])); got != bg {
		t.Errorf("border pixel = %04X, want framebuffer color %04X", got, bg)
	}
	if d.PixelAt(2, 2) != bg {
		t.Error("border must stay untouched in the framebuffer")
	}
	if d.PixelAt(3, 3) != 0xABCD {
		t.Error("blit target must land in the framebuffer")
	}
}

func TestRegionValidation(t *testing.T) {
	d, _ := testDev(t, 8, 8)

	if err := d.FlushRect(image.Rect(4, 4, 10, 10), make([]RGB565, 36)); err == nil {
		t.Error("out-of-panel region must be rejected")
	}
	if err := d.FlushRect(image.Rect(0, 0, 2, 2), make([]RGB565, 3)); err == nil {
		t.Error("short pixel buffer must be rejected")
	}
	if err := d.BlitRect(image.Rect(0, 0, 2, 2), make([]byte, 7), true); err == nil {
		t.Error("short image buffer must be rejected")
	}
	if err := d.FlushRect(image.Rectangle{}, nil); err != nil {
		t.Errorf("empty region is a no-op, got %v", err)
	}
}

func TestBusFaultPropagates(t *testing.T) {
	fc := &fakeConn{fail: errors.New("bus wedged")}
	if _, err := New(fc, &Opts{W: 8, H: 8}); err == nil {
		t.Error("init over a failing bus must error")
	}

	d, fcOK := testDev(t, 8, 8)
	fcOK.fail = errors.New("bus wedged")
	if err := d.FillRect(d.Bounds(), 0, true); err == nil {
		t.Error("transfer failure must propagate")
	}
}

func TestHalt(t *testing.T) {
	d, _ := testDev(t, 8, 8)
	if err := d.Halt(); err != nil {
		t.Fatalf("Halt: %v", err)
	}
	if err := d.SetBrightness(10); err == nil {
		t.Error("SetBrightness should fail when halted")
	}
	if err := d.FillRect(d.Bounds(), 0, true); err == nil {
		t.Error("FillRect should fail when halted")
	}
}

func TestRGB565RoundTrip(t *testing.T) {
	p := ToRGB565(0xF8, 0xFC, 0xF8)
	r, g, b := p.RGB()
	if r != 0xFF || g != 0xFF || b != 0xFF {
		t.Errorf("RGB() = %02X %02X %02X, want high bits replicated", r, g, b)
	}
	if r2, g2, b2 := RGB565(0).RGB(); r2 != 0 || g2 != 0 || b2 != 0 {
		t.Errorf("RGB() of black = %02X %02X %02X", r2, g2, b2)
	}
	if ToRGB565(0, 0, 0) != 0 {
		t.Error("black must pack to 0")
	}
	if ToRGB565(0xFF, 0xFF, 0xFF) != 0xFFFF {
		t.Error("white must pack to 0xFFFF")
	}
}

func TestString(t *testing.T) {
	d, _ := testDev(t, 8, 8)
	if got, want := d.String(), "co5300.Dev{8x8}"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
