// Package segmenter splits a multi-student QR code PDF into one segment per
// student and reads the identifying marker line and student name from each.
package segmenter

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/mathcheckin/internal/models"
)

var (
	// ErrNoPages is returned for a PDF that parses but has no pages.
	ErrNoPages = errors.New("pdf has no pages")
	// ErrInvalidPDF wraps pdfcpu validation failures of the source file.
	ErrInvalidPDF = errors.New("invalid pdf")
)

// Mode selects how segment boundaries are found.
type Mode string

const (
	// ModeFixed cuts the document every PagesPerStudent pages.
	ModeFixed Mode = "fixed"
	// ModeMarker starts a new segment on every page that contains the marker.
	ModeMarker Mode = "marker"
)

// Config controls segmentation.
type Config struct {
	Mode            Mode
	PagesPerStudent int
	Marker          string
}

// Source is the page-level view of a PDF. Pages are numbered from 1.
type Source interface {
	PageCount() int
	PageText(ctx context.Context, page int) (string, error)
	PagesPDF(ctx context.Context, first, last int) ([]byte, error)
	PageImages(ctx context.Context, first, last int) ([]Image, error)
	Close() error
}

// Image is an embedded raster image found on a page.
type Image struct {
	Data     []byte
	MimeType string
}

// TokenReader reads the marker line and name from a segment that has no
// usable text layer, for example a scanned sheet. It returns plain text in
// the same shape as the text layer would.
type TokenReader interface {
	ReadToken(ctx context.Context, pdf []byte) (string, error)
}

// Segment is one student's slice of the source PDF.
type Segment struct {
	Index     int
	FirstPage int
	LastPage  int
	Token     *models.Token
	// Err records why the token could not be read. It never stops iteration.
	Err error
}

// Label names the segment in summaries: the student name when known,
// otherwise the segment position.
func (s *Segment) Label() string {
	if s.Token != nil && s.Token.Name != "" {
		return s.Token.Name
	}
	return fmt.Sprintf("Segment %d", s.Index+1)
}

// Rendering is the upload payload produced for a matched segment.
type Rendering struct {
	Data     []byte
	MimeType string
}

// Segmenter turns PDFs into Documents.
type Segmenter struct {
	cfg    Config
	reader TokenReader
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithTokenReader enables the fallback reader for segments whose text layer
// carries no marker.
func WithTokenReader(r TokenReader) Option {
	return func(s *Segmenter) { s.reader = r }
}

// New returns a Segmenter. Zero values fall back to one page per student
// and the "UUID:" marker.
func New(cfg Config, opts ...Option) *Segmenter {
	if cfg.Mode == "" {
		cfg.Mode = ModeFixed
	}
	if cfg.PagesPerStudent < 1 {
		cfg.PagesPerStudent = 1
	}
	if cfg.Marker == "" {
		cfg.Marker = DefaultMarker
	}
	s := &Segmenter{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open validates pdf with pdfcpu and prepares it for segmentation. The
// returned Document must be closed.
func (s *Segmenter) Open(ctx context.Context, pdf []byte) (*Document, error) {
	src, err := openPDFCPU(ctx, pdf)
	if err != nil {
		return nil, err
	}
	return s.FromSource(src)
}

// FromSource wraps an already opened Source.
func (s *Segmenter) FromSource(src Source) (*Document, error) {
	if src.PageCount() < 1 {
		_ = src.Close()
		return nil, ErrNoPages
	}
	return &Document{src: src, cfg: s.cfg, reader: s.reader}, nil
}

// Document is an opened source PDF.
type Document struct {
	src    Source
	cfg    Config
	reader TokenReader
}

func (d *Document) PageCount() int { return d.src.PageCount() }

func (d *Document) Close() error { return d.src.Close() }

// Segments yields segments in page order, extracting text one segment at a
// time. A non-nil error is only yielded when ctx ends; per-segment failures
// are reported on Segment.Err.
func (d *Document) Segments(ctx context.Context) iter.Seq2[*Segment, error] {
	return func(yield func(*Segment, error) bool) {
		if d.cfg.Mode == ModeMarker {
			d.markerSegments(ctx, yield)
			return
		}
		d.fixedSegments(ctx, yield)
	}
}

func (d *Document) fixedSegments(ctx context.Context, yield func(*Segment, error) bool) {
	n := d.src.PageCount()
	span := d.cfg.PagesPerStudent
	for i, first := 0, 1; first <= n; i, first = i+1, first+span {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		last := min(first+span-1, n)
		seg := &Segment{Index: i, FirstPage: first, LastPage: last}

		var text strings.Builder
		for p := first; p <= last; p++ {
			t, err := d.src.PageText(ctx, p)
			if err != nil {
				seg.Err = errors.Join(seg.Err, fmt.Errorf("page %d: %w", p, err))
				continue
			}
			text.WriteString(t)
			text.WriteByte('\n')
		}
		d.finish(ctx, seg, text.String())
		if !yield(seg, nil) {
			return
		}
	}
}

func (d *Document) markerSegments(ctx context.Context, yield func(*Segment, error) bool) {
	n := d.src.PageCount()
	var (
		cur       *Segment
		curText   strings.Builder
		curMarked bool
		index     int
	)
	emit := func() bool {
		d.finish(ctx, cur, curText.String())
		ok := yield(cur, nil)
		index++
		cur = nil
		curText.Reset()
		curMarked = false
		return ok
	}

	for p := 1; p <= n; p++ {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		text, err := d.src.PageText(ctx, p)
		marked := err == nil && containsFold(text, d.cfg.Marker)

		// Pages before the first marker belong to the first segment.
		if marked && cur != nil && curMarked {
			if !emit() {
				return
			}
		}
		if cur == nil {
			cur = &Segment{Index: index, FirstPage: p}
		}
		cur.LastPage = p
		if err != nil {
			cur.Err = errors.Join(cur.Err, fmt.Errorf("page %d: %w", p, err))
		} else {
			curText.WriteString(text)
			curText.WriteByte('\n')
		}
		curMarked = curMarked || marked
	}
	if cur != nil {
		emit()
	}
}

// finish parses the token from the segment text, asking the fallback reader
// when the text layer has no marker.
func (d *Document) finish(ctx context.Context, seg *Segment, text string) {
	seg.Token = ParseToken(text, d.cfg.Marker)
	if seg.Token != nil || d.reader == nil {
		return
	}

	logCtx := slog.With("firstPage", seg.FirstPage, "lastPage", seg.LastPage)
	pdf, err := d.src.PagesPDF(ctx, seg.FirstPage, seg.LastPage)
	if err != nil {
		seg.Err = errors.Join(seg.Err, fmt.Errorf("extract segment for token reader: %w", err))
		return
	}
	read, err := d.reader.ReadToken(ctx, pdf)
	if err != nil {
		logCtx.Warn("Token reader failed for segment.", "error", err)
		seg.Err = errors.Join(seg.Err, fmt.Errorf("token reader: %w", err))
		return
	}
	seg.Token = ParseToken(read, d.cfg.Marker)
	if seg.Token != nil {
		logCtx.Info("Token recovered by reader.", "studentName", seg.Token.Name)
	}
}

// Render produces the upload payload for seg: the largest embedded PNG or
// JPEG image on its pages, or the segment as a standalone PDF when it has no
// usable image.
func (d *Document) Render(ctx context.Context, seg *Segment) (*Rendering, error) {
	images, err := d.src.PageImages(ctx, seg.FirstPage, seg.LastPage)
	if err != nil {
		slog.Warn("Image extraction failed, falling back to PDF.", "firstPage", seg.FirstPage, "error", err)
	}
	var best *Image
	for i := range images {
		img := &images[i]
		if img.MimeType != "image/png" && img.MimeType != "image/jpeg" {
			continue
		}
		if best == nil || len(img.Data) > len(best.Data) {
			best = img
		}
	}
	if best != nil {
		return &Rendering{Data: best.Data, MimeType: best.MimeType}, nil
	}

	pdf, err := d.src.PagesPDF(ctx, seg.FirstPage, seg.LastPage)
	if err != nil {
		return nil, fmt.Errorf("render pages %d-%d: %w", seg.FirstPage, seg.LastPage, err)
	}
	return &Rendering{Data: pdf, MimeType: "application/pdf"}, nil
}
