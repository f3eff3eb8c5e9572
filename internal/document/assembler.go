// Package document assembles extracted page images into a single PDF.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png" // register PNG decoder
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterwatch/internal/chapter"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// Config tunes page encoding.
type Config struct {
	// JPEGQuality is used when re-encoding flattened pages. Defaults to 90.
	JPEGQuality int
}

// Assembler implements chapter.Assembler using go-pdf/fpdf.
type Assembler struct {
	quality int
	logger  *zap.Logger
}

// New builds an Assembler.
func New(cfg Config, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	quality := cfg.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	return &Assembler{quality: quality, logger: logger}
}

// Assemble renders every decodable page image under imageDir, in page order,
// into an in-memory PDF with one page per image.
func (a *Assembler) Assemble(ctx context.Context, imageDir string, chapterNumber int) (chapter.Document, error) {
	paths, err := collectImages(imageDir)
	if err != nil {
		return chapter.Document{}, err
	}
	logger := a.logger.With(zap.Int("chapter", chapterNumber), zap.String("dir", imageDir))
	if len(paths) == 0 {
		logger.Warn("no page images found")
		return chapter.Document{}, chapter.ErrNoImages
	}
	SortPages(paths)

	pdf := fpdf.NewCustom(&fpdf.InitType{UnitStr: "pt", Size: fpdf.SizeType{Wd: 595, Ht: 842}})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle(fmt.Sprintf("Chapter %d", chapterNumber), true)

	pages := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return chapter.Document{}, fmt.Errorf("assemble canceled: %w", err)
		}
		page, bounds, err := a.flatten(path)
		if err != nil {
			logger.Warn("skipping undecodable page image", zap.String("file", filepath.Base(path)), zap.Error(err))
			continue
		}
		w, h := float64(bounds.Dx()), float64(bounds.Dy())
		name := fmt.Sprintf("page-%04d", pages)
		opts := fpdf.ImageOptions{ImageType: "JPG"}
		pdf.AddPageFormat("P", fpdf.SizeType{Wd: w, Ht: h})
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(page))
		pdf.ImageOptions(name, 0, 0, w, h, false, opts, 0, "")
		if err := pdf.Error(); err != nil {
			return chapter.Document{}, fmt.Errorf("render page %s: %w", filepath.Base(path), err)
		}
		pages++
	}
	if pages == 0 {
		logger.Warn("no decodable page images", zap.Int("candidates", len(paths)))
		return chapter.Document{}, chapter.ErrNoImages
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return chapter.Document{}, fmt.Errorf("write pdf: %w", err)
	}
	logger.Info("document assembled", zap.Int("pages", pages), zap.Int("bytes", buf.Len()))
	return chapter.Document{Data: buf.Bytes(), Pages: pages}, nil
}

// flatten decodes an image, composites it on white and re-encodes it as JPEG.
func (a *Assembler) flatten(path string) ([]byte, image.Rectangle, error) {
	// #nosec G304 -- paths come from walking the extraction directory.
	f, err := os.Open(path)
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, image.Rectangle{}, errors.New("empty image")
	}
	canvas := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), src, bounds.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: a.quality}); err != nil {
		return nil, image.Rectangle{}, err
	}
	return buf.Bytes(), canvas.Bounds(), nil
}

func collectImages(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if imageExtensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return paths, nil
}

type pageKey struct {
	parsed  bool
	chapter int
	page    int
	raw     string
}

// pageNamePattern matches "<prefix><chapter>_p<page>" stems, where prefix is
// any run of non-digits (c1502_p07, op1502_p7, Chapter1502_P07).
var pageNamePattern = regexp.MustCompile(`^\D*(\d+)_[pP](\d+)$`)

// parsePageKey reads "<prefix><chapter>_p<page>" names such as c1502_p07.jpg.
func parsePageKey(path string) pageKey {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	key := pageKey{raw: base}
	m := pageNamePattern.FindStringSubmatch(stem)
	if m == nil {
		return key
	}
	ch, err := strconv.Atoi(m[1])
	if err != nil {
		return key
	}
	page, err := strconv.Atoi(m[2])
	if err != nil {
		return key
	}
	return pageKey{parsed: true, chapter: ch, page: page, raw: base}
}

func (k pageKey) less(o pageKey) bool {
	if k.parsed != o.parsed {
		return k.parsed
	}
	if k.parsed {
		if k.chapter != o.chapter {
			return k.chapter < o.chapter
		}
		if k.page != o.page {
			return k.page < o.page
		}
	}
	return k.raw < o.raw
}

// SortPages orders image paths by (chapter, page) when names follow the
// "<prefix><chapter>_p<page>" pattern. Other names follow, sorted by file name.
func SortPages(paths []string) {
	keys := make(map[string]pageKey, len(paths))
	for _, p := range paths {
		keys[p] = parsePageKey(p)
	}
	sort.SliceStable(paths, func(i, j int) bool {
		return keys[paths[i]].less(keys[paths[j]])
	})
}

var _ chapter.Assembler = (*Assembler)(nil)
