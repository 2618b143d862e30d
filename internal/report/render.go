package report

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/signintech/gopdf"
	"golang.org/x/text/encoding/charmap"
)

// Renderer serializes a Document to PDF bytes.
type Renderer interface {
	Render(doc Document) ([]byte, error)
}

// Well-known DejaVu locations on Alpine and Debian based images.
var fontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

// NewRenderer returns a TrueType renderer when fontPath or one of the
// well-known DejaVu paths exists, and the core-font renderer otherwise.
func NewRenderer(fontPath string, log *slog.Logger) Renderer {
	if log == nil {
		log = slog.Default()
	}
	candidates := fontPaths
	if fontPath != "" {
		candidates = append([]string{fontPath}, fontPaths...)
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			log.Info("report font loaded", "path", path)
			return &TTFRenderer{FontPath: path}
		}
	}
	log.Warn("no TrueType font found, using core PDF fonts", "tried", strings.Join(candidates, ","))
	return &CoreRenderer{Compress: true}
}

// CoreRenderer uses the built-in Helvetica font. Text is encoded as
// Windows-1252; runes outside it are printed as '?'.
type CoreRenderer struct {
	Compress bool
}

func (r *CoreRenderer) Render(doc Document) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(r.Compress)
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetTitle(doc.Title, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 12, cp1252(doc.Title), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	for _, sec := range doc.Sections {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.CellFormat(0, 8, cp1252(sec.Heading), "", 1, "", false, 0, "")
		pdf.SetFont("Helvetica", "", 12)
		for _, row := range sec.Rows {
			pdf.CellFormat(40, 6, cp1252(row.Label), "", 0, "", false, 0, "")
			pdf.CellFormat(0, 6, cp1252(row.Value), "", 1, "", false, 0, "")
		}
		for _, p := range sec.Paragraphs {
			pdf.MultiCell(0, 6, cp1252(p), "", "L", false)
		}
		pdf.Ln(4)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// cp1252 re-encodes s for the core fonts.
func cp1252(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return string(out)
}

// TTFRenderer embeds a TrueType font, so any script the font covers is
// printed as is. Glyphs missing from the font become '?'.
type TTFRenderer struct {
	FontPath string
}

const (
	ttfFamily    = "report"
	pageMargin   = 42.0 // points, about 15 mm
	lineHeight   = 16.0
	labelColumn  = 113.0
	contentWidth = 595.28 - 2*pageMargin
	pageBottom   = 841.89 - pageMargin
)

func (r *TTFRenderer) Render(doc Document) ([]byte, error) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	err := pdf.AddTTFFontWithOption(ttfFamily, r.FontPath, gopdf.TtfOption{
		OnGlyphNotFoundSubstitute: func(rune) rune { return '?' },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load font %s: %w", r.FontPath, err)
	}

	w := &ttfWriter{pdf: pdf}
	pdf.SetXY(pageMargin, pageMargin)

	w.font(18)
	if width, err := pdf.MeasureTextWidth(doc.Title); err == nil {
		pdf.SetX((595.28 - width) / 2)
	}
	w.line(doc.Title, 30)

	for _, sec := range doc.Sections {
		w.font(14)
		w.line(sec.Heading, 22)
		w.font(12)
		for _, row := range sec.Rows {
			w.row(row)
		}
		for _, p := range sec.Paragraphs {
			w.paragraph(p)
		}
		w.space(10)
	}
	if w.err != nil {
		return nil, w.err
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// ttfWriter tracks the cursor and starts new pages. The first error sticks.
type ttfWriter struct {
	pdf *gopdf.GoPdf
	err error
}

func (w *ttfWriter) font(size float64) {
	if w.err == nil {
		w.err = w.pdf.SetFont(ttfFamily, "", size)
	}
}

func (w *ttfWriter) ensure(h float64) {
	if w.pdf.GetY()+h > pageBottom {
		w.pdf.AddPage()
		w.pdf.SetXY(pageMargin, pageMargin)
	}
}

func (w *ttfWriter) line(text string, h float64) {
	if w.err != nil {
		return
	}
	w.ensure(h)
	if text != "" {
		w.err = w.pdf.Cell(nil, text)
	}
	w.pdf.Br(h)
	w.pdf.SetX(pageMargin)
}

func (w *ttfWriter) row(r Row) {
	if w.err != nil {
		return
	}
	w.ensure(lineHeight)
	w.pdf.SetX(pageMargin)
	if w.err = w.pdf.Cell(nil, r.Label); w.err != nil {
		return
	}
	w.pdf.SetX(pageMargin + labelColumn)
	w.line(r.Value, lineHeight)
}

func (w *ttfWriter) paragraph(text string) {
	if w.err != nil {
		return
	}
	lines, err := w.pdf.SplitText(text, contentWidth)
	if err != nil {
		w.line(text, lineHeight)
		return
	}
	for _, l := range lines {
		w.line(l, lineHeight)
	}
}

func (w *ttfWriter) space(h float64) {
	if w.err == nil {
		w.pdf.Br(h)
	}
}
