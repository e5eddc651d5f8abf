package main

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/omniwatch/omniwatch_display/co5300"
)

// Asset is one pre-decoded image or animation frame, ready for BlitRect:
// row-major big-endian RGB565, W*H*2 bytes. Assets are immutable after load.
type Asset struct {
	Name string
	W, H int
	Data []byte
}

// AssetCache holds the fixed asset set, loaded once at startup. The set is
// small and fully resident; there is no eviction and no reload.
type AssetCache struct {
	assets map[string]*Asset
}

// Raw blobs follow the packer naming: name_466x466_rgb565_be.raw, optionally
// zlib-compressed with a trailing .zlib.
var rawAssetRE = regexp.MustCompile(`^(.+)_(\d+)x(\d+)_rgb565_be\.raw(\.zlib)?$`)

// LoadAssets decodes every supported file in dir. Raw RGB565 blobs pass
// through (after optional zlib inflate), PNGs and SVGs are rasterized and
// packed. Unknown files are skipped with a log line, not an error.
func LoadAssets(dir string) (*AssetCache, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("asset dir: %w", err)
	}

	c := &AssetCache{assets: make(map[string]*Asset)}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		var a *Asset
		switch {
		case rawAssetRE.MatchString(e.Name()):
			a, err = loadRawAsset(path, e.Name())
		case strings.EqualFold(filepath.Ext(e.Name()), ".png"):
			a, err = loadPNGAsset(path, e.Name())
		case strings.EqualFold(filepath.Ext(e.Name()), ".svg"):
			a, err = loadSVGAsset(path, e.Name())
		default:
			log.Printf("assets: skipping %s", e.Name())
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", e.Name(), err)
		}
		c.assets[a.Name] = a
	}
	log.Printf("assets: loaded %d entries from %s", len(c.assets), dir)
	return c, nil
}

// Get returns a read-only asset. The asset set is fixed at build time, so a
// missing key is a programming error, not a runtime condition.
func (c *AssetCache) Get(name string) *Asset {
	a, ok := c.assets[name]
	if !ok {
		log.Fatalf("assets: missing asset %q", name)
	}
	return a
}

// Has reports whether an asset was loaded.
func (c *AssetCache) Has(name string) bool {
	_, ok := c.assets[name]
	return ok
}

// FrameCount counts consecutive frames named prefix_0, prefix_1, ...
func (c *AssetCache) FrameCount(prefix string) int {
	n := 0
	for c.Has(fmt.Sprintf("%s_%d", prefix, n)) {
		n++
	}
	return n
}

func loadRawAsset(path, name string) (*Asset, error) {
	m := rawAssetRE.FindStringSubmatch(name)
	w, _ := strconv.Atoi(m[2])
	h, _ := strconv.Atoi(m[3])

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if m[4] != "" {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		data, err = io.ReadAll(zr)
		if err != nil {
			return nil, err
		}
		zr.Close()
	}
	if len(data) != w*h*2 {
		return nil, fmt.Errorf("raw blob is %d bytes, %dx%d needs %d", len(data), w, h, w*h*2)
	}
	return &Asset{Name: m[1], W: w, H: h, Data: data}, nil
}

func loadPNGAsset(path, name string) (*Asset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, err
	}
	return packImage(strings.TrimSuffix(name, filepath.Ext(name)), img), nil
}

func loadSVGAsset(path, name string) (*Asset, error) {
	svgData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
	if err != nil {
		return nil, err
	}
	w := int(icon.ViewBox.W)
	h := int(icon.ViewBox.H)
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Bounds(), image.NewUniform(color.RGBA{0, 0, 0, 255}), image.Point{}, draw.Src)
	icon.SetTarget(0, 0, float64(w), float64(h))
	scanner := rasterx.NewScannerGV(w, h, rgba, rgba.Bounds())
	dasher := rasterx.NewDasher(w, h, scanner)
	icon.Draw(dasher, 1.0)
	return packImage(strings.TrimSuffix(name, filepath.Ext(name)), rgba), nil
}

// packImage converts any decoded image to the panel's wire format.
func packImage(name string, img image.Image) *Asset {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	data := make([]byte, w*h*2)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bb, _ := img.At(x, y).RGBA()
			p := co5300.ToRGB565(uint8(r>>8), uint8(g>>8), uint8(bb>>8))
			data[i] = byte(p >> 8)
			data[i+1] = byte(p)
			i += 2
		}
	}
	return &Asset{Name: name, W: w, H: h, Data: data}
}
