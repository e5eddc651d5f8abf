package main

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/llgcode/draw2d/draw2dimg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/omniwatch/omniwatch_display/co5300"
)

// Surface is the subset of the display driver the renderer draws through.
type Surface interface {
	Bounds() image.Rectangle
	FlushRect(r image.Rectangle, pix []co5300.RGB565) error
	FillRect(r image.Rectangle, c co5300.RGB565, sync bool) error
	BlitRect(r image.Rectangle, data []byte, sync bool) error
	SetBrightness(level byte) error
	SetPower(on bool) error
}

// Fixed screen regions on the 466x466 panel. artRegion is deliberately
// odd-origined (240x240 centered), so every art blit goes through the
// even-alignment expansion.
var (
	artRegion    = image.Rect(113, 113, 353, 353)
	indexRegion  = image.Rect(183, 380, 283, 412)
	labelsRegion = image.Rect(103, 150, 363, 330)
	timeRegion   = image.Rect(63, 193, 403, 273)
	faceRegion   = image.Rect(83, 83, 383, 383)
	barRegion    = image.Rect(83, 233, 383, 273)
)

var (
	colBlack  = color.RGBA{0, 0, 0, 255}
	colWhite  = color.RGBA{255, 255, 255, 255}
	colGreen  = color.RGBA{70, 235, 145, 255}
	colYellow = color.RGBA{255, 229, 0, 255}
	colGrey   = color.RGBA{98, 116, 130, 255}
)

var appNames = [appCount]string{"OMNITRIX", "TIME", "SETTINGS"}

// FontConfig holds parameters for one face.
type FontConfig struct {
	FontPath string
	FontSize float64
}

var fonts = map[string]FontConfig{
	"reg": {FontPath: "Orbitron-Medium.ttf", FontSize: 22},
	"big": {FontPath: "Orbitron-ExtraBold.ttf", FontSize: 40},
}

// Renderer maps UI states and redraw scopes to display surface calls,
// repainting the smallest fixed region that covers the change.
type Renderer struct {
	disp    Surface
	assets  *AssetCache
	scratch *image.RGBA // composition buffer, panel sized

	faceReg font.Face
	faceBig font.Face
}

// NewRenderer loads the font faces from fontDir and prepares the scratch
// canvas. A missing font directory falls back to the built-in bitmap face so
// the simulator runs without the asset bundle.
func NewRenderer(disp Surface, assets *AssetCache, fontDir string) *Renderer {
	r := &Renderer{
		disp:    disp,
		assets:  assets,
		scratch: image.NewRGBA(disp.Bounds()),
		faceReg: basicfont.Face7x13,
		faceBig: basicfont.Face7x13,
	}
	if face, err := loadFace(fontDir, fonts["reg"]); err == nil {
		r.faceReg = face
	} else {
		log.Printf("fonts: %v, using built-in face", err)
	}
	if face, err := loadFace(fontDir, fonts["big"]); err == nil {
		r.faceBig = face
	} else {
		log.Printf("fonts: %v, using built-in face", err)
	}
	return r
}

func loadFace(dir string, cfg FontConfig) (font.Face, error) {
	fontBytes, err := os.ReadFile(filepath.Join(dir, cfg.FontPath))
	if err != nil {
		return nil, err
	}
	ttf, err := opentype.Parse(fontBytes)
	if err != nil {
		return nil, err
	}
	return opentype.NewFace(ttf, &opentype.FaceOptions{
		Size:    cfg.FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

// Render repaints for one redraw pass. Any scope list containing RedrawFull
// collapses into a single full repaint of the current state; otherwise each
// partial scope repaints only its fixed region.
func (r *Renderer) Render(s State, scopes []RedrawScope, brightness int) {
	full := false
	for _, sc := range scopes {
		if sc == RedrawFull {
			full = true
			break
		}
	}
	if full {
		r.renderFull(s, brightness)
		return
	}
	for _, sc := range scopes {
		switch sc {
		case RedrawHomeSelector:
			if st, ok := s.(*HomeState); ok {
				r.drawHomeLabels(st)
			}
		case RedrawAlienArt:
			if st, ok := s.(*OmnitrixState); ok {
				r.drawAlien(st)
			}
		case RedrawBrightnessBar:
			r.drawBrightnessBar(brightness)
		case RedrawTimeText:
			if st, ok := s.(*TimeState); ok {
				r.drawTimeBody(st)
			}
		case RedrawTransformFrame:
			if st, ok := s.(*TransformState); ok {
				r.drawTransformFrame(st, false)
			}
		}
	}
}

func (r *Renderer) renderFull(s State, brightness int) {
	switch st := s.(type) {
	case *TransformState:
		// The frame covers the whole panel, so the blank can skip the
		// framebuffer write-back: the blit re-establishes it immediately.
		r.drawTransformFrame(st, true)
	case *HomeState:
		r.must(r.disp.FillRect(r.disp.Bounds(), 0, true))
		r.drawHomeLabels(st)
	case *OmnitrixState:
		r.must(r.disp.FillRect(r.disp.Bounds(), 0, true))
		r.drawAlien(st)
	case *TimeState:
		r.must(r.disp.FillRect(r.disp.Bounds(), 0, true))
		r.drawTimeBody(st)
	case *SettingsState:
		r.must(r.disp.FillRect(r.disp.Bounds(), 0, true))
		if st.Page == PageBrightness {
			r.drawRegionText(indexRegion, "BRIGHT", r.faceReg, colGrey)
			r.drawBrightnessBar(brightness)
		} else {
			logo := r.assets.Get("omnitrix_logo")
			r.blitCentered(logo)
		}
	}
}

// drawAlien repaints the alien art and the index indicator, nothing else.
func (r *Renderer) drawAlien(st *OmnitrixState) {
	art := r.assets.Get(fmt.Sprintf("alien%d", st.Selected+1))
	r.must(r.disp.BlitRect(artRegion, art.Data, true))
	r.drawRegionText(indexRegion, fmt.Sprintf("%d/%d", st.Selected+1, alienCount), r.faceReg, colGreen)
}

func (r *Renderer) drawTransformFrame(st *TransformState, entering bool) {
	frame := r.assets.Get(fmt.Sprintf("transform_%d", st.Frame))
	fr := image.Rect(0, 0, frame.W, frame.H).Add(image.Point{
		X: (r.disp.Bounds().Dx() - frame.W) / 2,
		Y: (r.disp.Bounds().Dy() - frame.H) / 2,
	})
	if entering {
		// Skip the write-back only when the frame really covers everything.
		fullCover := fr == r.disp.Bounds()
		r.must(r.disp.FillRect(r.disp.Bounds(), 0, !fullCover))
	}
	r.must(r.disp.BlitRect(fr, frame.Data, true))
}

func (r *Renderer) drawHomeLabels(st *HomeState) {
	img := r.clearScratch(labelsRegion)
	rowH := labelsRegion.Dy() / appCount
	for i, name := range appNames {
		clr := colGrey
		label := name
		if i == st.Sel {
			clr = colGreen
			label = "> " + name
		}
		drawText(img, label, labelsRegion.Min.X+20, labelsRegion.Min.Y+i*rowH+rowH/3, r.faceReg, clr, false)
	}
	r.flushScratch(labelsRegion)
}

func (r *Renderer) drawTimeBody(st *TimeState) {
	if st.Mode == TimeAnalog {
		r.drawAnalogFace(st)
		return
	}
	img := r.clearScratch(timeRegion)
	text := fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
	cx := timeRegion.Min.X + timeRegion.Dx()/2
	drawText(img, text, cx, timeRegion.Min.Y+10, r.faceBig, colWhite, true)
	if st.Editing {
		field := "HOUR"
		if st.Field == FieldMinute {
			field = "MIN"
		}
		drawText(img, "SET "+field, cx, timeRegion.Min.Y+58, r.faceReg, colYellow, true)
	}
	r.flushScratch(timeRegion)
}

// drawAnalogFace draws the dial outline and hands with draw2d.
func (r *Renderer) drawAnalogFace(st *TimeState) {
	img := r.clearScratch(faceRegion)
	gc := draw2dimg.NewGraphicContext(img)

	cx := float64(faceRegion.Min.X + faceRegion.Dx()/2)
	cy := float64(faceRegion.Min.Y + faceRegion.Dy()/2)
	rad := float64(faceRegion.Dx())/2 - 6

	gc.SetStrokeColor(colGreen)
	gc.SetLineWidth(4)
	gc.BeginPath()
	gc.ArcTo(cx, cy, rad, rad, 0, 2*math.Pi)
	gc.Stroke()

	hourAngle := (float64(st.Hour%12) + float64(st.Minute)/60) / 12 * 2 * math.Pi
	minAngle := float64(st.Minute) / 60 * 2 * math.Pi

	gc.SetStrokeColor(colWhite)
	gc.SetLineWidth(6)
	gc.BeginPath()
	gc.MoveTo(cx, cy)
	gc.LineTo(cx+0.55*rad*math.Sin(hourAngle), cy-0.55*rad*math.Cos(hourAngle))
	gc.Stroke()

	gc.SetLineWidth(3)
	gc.BeginPath()
	gc.MoveTo(cx, cy)
	gc.LineTo(cx+0.85*rad*math.Sin(minAngle), cy-0.85*rad*math.Cos(minAngle))
	gc.Stroke()

	r.flushScratch(faceRegion)
}

func (r *Renderer) drawBrightnessBar(brightness int) {
	img := r.clearScratch(barRegion)
	gc := draw2dimg.NewGraphicContext(img)

	x0, y0 := float64(barRegion.Min.X), float64(barRegion.Min.Y)
	w, h := float64(barRegion.Dx()), float64(barRegion.Dy())

	gc.SetStrokeColor(colGrey)
	gc.SetLineWidth(2)
	gc.BeginPath()
	gc.MoveTo(x0+1, y0+1)
	gc.LineTo(x0+w-1, y0+1)
	gc.LineTo(x0+w-1, y0+h-1)
	gc.LineTo(x0+1, y0+h-1)
	gc.Close()
	gc.Stroke()

	gc.SetFillColor(colYellow)
	gc.BeginPath()
	gc.MoveTo(x0+3, y0+3)
	gc.LineTo(x0+3+(w-6)*float64(brightness)/100, y0+3)
	gc.LineTo(x0+3+(w-6)*float64(brightness)/100, y0+h-3)
	gc.LineTo(x0+3, y0+h-3)
	gc.Close()
	gc.Fill()

	r.flushScratch(barRegion)
}

// drawRegionText clears a fixed region and centers one line of text in it.
func (r *Renderer) drawRegionText(region image.Rectangle, text string, face font.Face, clr color.Color) {
	img := r.clearScratch(region)
	drawText(img, text, region.Min.X+region.Dx()/2, region.Min.Y+4, face, clr, true)
	r.flushScratch(region)
}

func (r *Renderer) blitCentered(a *Asset) {
	b := r.disp.Bounds()
	dst := image.Rect(0, 0, a.W, a.H).Add(image.Point{X: (b.Dx() - a.W) / 2, Y: (b.Dy() - a.H) / 2})
	r.must(r.disp.BlitRect(dst, a.Data, true))
}

// clearScratch blacks out one region of the composition buffer and returns
// the buffer for drawing.
func (r *Renderer) clearScratch(region image.Rectangle) *image.RGBA {
	draw.Draw(r.scratch, region, image.NewUniform(colBlack), image.Point{}, draw.Src)
	return r.scratch
}

// flushScratch pushes one scratch region to the panel through the
// alignment-safe path.
func (r *Renderer) flushScratch(region image.Rectangle) {
	pix := make([]co5300.RGB565, region.Dx()*region.Dy())
	i := 0
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			c := r.scratch.RGBAAt(x, y)
			pix[i] = co5300.ToRGB565(c.R, c.G, c.B)
			i++
		}
	}
	r.must(r.disp.FlushRect(region, pix))
}

// A display that stops taking writes is unusable; there is no recovery path.
func (r *Renderer) must(err error) {
	if err != nil {
		log.Fatalf("display: %v", err)
	}
}

// drawText draws a string onto an *image.RGBA at (x,y) using the specified
// font face and color. With center set, x is the center of the rendered text.
func drawText(img *image.RGBA, text string, posX, posY int, face font.Face, clr color.Color, center bool) (finishX, finishY int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(clr),
		Face: face,
	}

	metrics := face.Metrics()

	x := posX
	if center {
		x = posX - d.MeasureString(text).Round()/2
	}
	y := posY + metrics.Ascent.Round()

	d.Dot = fixed.P(x, y)
	d.DrawString(text)

	finishX = x + d.MeasureString(text).Round()
	finishY = posY + metrics.Ascent.Round() + metrics.Descent.Round()
	return
}
