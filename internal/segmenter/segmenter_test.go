package segmenter

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type fakeSource struct {
	texts    map[int]string
	textErrs map[int]error
	images   map[int][]Image
	pages    int
	closed   bool
}

func (f *fakeSource) PageCount() int { return f.pages }

func (f *fakeSource) PageText(_ context.Context, page int) (string, error) {
	if err := f.textErrs[page]; err != nil {
		return "", err
	}
	return f.texts[page], nil
}

func (f *fakeSource) PagesPDF(_ context.Context, first, last int) ([]byte, error) {
	return []byte(fmt.Sprintf("%%PDF pages %d-%d", first, last)), nil
}

func (f *fakeSource) PageImages(_ context.Context, first, last int) ([]Image, error) {
	var out []Image
	for p := first; p <= last; p++ {
		out = append(out, f.images[p]...)
	}
	return out, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func collect(t *testing.T, doc *Document) []*Segment {
	t.Helper()
	var segs []*Segment
	for seg, err := range doc.Segments(context.Background()) {
		if err != nil {
			t.Fatalf("Segments: %v", err)
		}
		segs = append(segs, seg)
	}
	return segs
}

func TestFixedSegmentsOnePagePerStudent(t *testing.T) {
	src := &fakeSource{pages: 3, texts: map[int]string{
		1: "UUID: 1\nAlice Smith",
		2: "UUID: 2\nBob Lee",
		3: "UUID: 3\nCarol White",
	}}
	doc, err := New(Config{}).FromSource(src)
	if err != nil {
		t.Fatal(err)
	}
	segs := collect(t, doc)

	want := []string{"Alice Smith", "Bob Lee", "Carol White"}
	if len(segs) != len(want) {
		t.Fatalf("got %d segments, want %d", len(segs), len(want))
	}
	for i, seg := range segs {
		if seg.Token == nil || seg.Token.Name != want[i] || seg.Token.ID != fmt.Sprint(i+1) {
			t.Errorf("segment %d token = %+v", i, seg.Token)
		}
		if seg.Index != i || seg.FirstPage != i+1 || seg.LastPage != i+1 {
			t.Errorf("segment %d bounds = %d %d-%d", i, seg.Index, seg.FirstPage, seg.LastPage)
		}
	}
}

func TestFixedSegmentsShortTail(t *testing.T) {
	src := &fakeSource{pages: 5, texts: map[int]string{1: "UUID: 1", 2: "Alice", 3: "UUID: 2\nBob", 5: "UUID: 3\nCarol"}}
	doc, _ := New(Config{Mode: ModeFixed, PagesPerStudent: 2}).FromSource(src)
	segs := collect(t, doc)

	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}
	if segs[0].Token == nil || segs[0].Token.Name != "Alice" {
		t.Errorf("name on the second page of a segment not found: %+v", segs[0].Token)
	}
	if segs[2].FirstPage != 5 || segs[2].LastPage != 5 {
		t.Errorf("tail segment = %d-%d, want 5-5", segs[2].FirstPage, segs[2].LastPage)
	}
	if segs[1].Token == nil || segs[1].Token.Name != "Bob" {
		t.Errorf("segment 2 token = %+v", segs[1].Token)
	}
}

func TestMarkerSegments(t *testing.T) {
	src := &fakeSource{pages: 6, texts: map[int]string{
		1: "Cover sheet",
		2: "UUID: 1\nAlice Smith",
		3: "continued",
		4: "UUID: 2\nBob Lee",
		5: "UUID: 3\nCarol White",
		6: "back page",
	}}
	doc, _ := New(Config{Mode: ModeMarker}).FromSource(src)
	segs := collect(t, doc)

	type bounds struct{ first, last int }
	want := []bounds{{1, 3}, {4, 4}, {5, 6}}
	if len(segs) != len(want) {
		t.Fatalf("got %d segments, want %d", len(segs), len(want))
	}
	for i, seg := range segs {
		if seg.FirstPage != want[i].first || seg.LastPage != want[i].last {
			t.Errorf("segment %d = %d-%d, want %d-%d", i, seg.FirstPage, seg.LastPage, want[i].first, want[i].last)
		}
		if seg.Token == nil {
			t.Errorf("segment %d has no token", i)
		}
	}
	if segs[0].Token.Name != "Alice Smith" {
		t.Errorf("leading pages should join the first segment: %+v", segs[0].Token)
	}
}

func TestMarkerSegmentsWithoutAnyMarker(t *testing.T) {
	src := &fakeSource{pages: 2, texts: map[int]string{1: "nothing", 2: "here"}}
	doc, _ := New(Config{Mode: ModeMarker}).FromSource(src)
	segs := collect(t, doc)
	if len(segs) != 1 || segs[0].Token != nil {
		t.Fatalf("segments = %+v, want one segment with nil token", segs)
	}
	if segs[0].Label() != "Segment 1" {
		t.Errorf("Label = %q", segs[0].Label())
	}
}

func TestSegmentTextErrorIsPerSegment(t *testing.T) {
	boom := errors.New("bad content stream")
	src := &fakeSource{
		pages:    2,
		texts:    map[int]string{2: "UUID: 2\nBob Lee"},
		textErrs: map[int]error{1: boom},
	}
	doc, _ := New(Config{}).FromSource(src)
	segs := collect(t, doc)

	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if !errors.Is(segs[0].Err, boom) || segs[0].Token != nil {
		t.Errorf("segment 0 = %+v, want recorded error and nil token", segs[0])
	}
	if segs[1].Token == nil || segs[1].Token.Name != "Bob Lee" {
		t.Errorf("segment 1 token = %+v", segs[1].Token)
	}
}

type fakeReader struct {
	calls int
	text  string
	err   error
}

func (r *fakeReader) ReadToken(_ context.Context, pdf []byte) (string, error) {
	r.calls++
	return r.text, r.err
}

func TestTokenReaderFallback(t *testing.T) {
	src := &fakeSource{pages: 2, texts: map[int]string{1: "UUID: 1\nAlice Smith", 2: ""}}
	reader := &fakeReader{text: "UUID: 2\nBob Lee"}
	doc, _ := New(Config{}, WithTokenReader(reader)).FromSource(src)
	segs := collect(t, doc)

	if reader.calls != 1 {
		t.Errorf("reader called %d times, want only for the page without text", reader.calls)
	}
	if segs[1].Token == nil || segs[1].Token.Name != "Bob Lee" {
		t.Errorf("fallback token = %+v", segs[1].Token)
	}

	reader.err = errors.New("quota")
	reader.calls = 0
	segs = collect(t, doc)
	if segs[1].Token != nil || segs[1].Err == nil {
		t.Errorf("failed fallback should leave nil token and an error: %+v", segs[1])
	}
}

func TestSegmentsStopOnCancelledContext(t *testing.T) {
	src := &fakeSource{pages: 3}
	doc, _ := New(Config{}).FromSource(src)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotErr error
	for _, err := range doc.Segments(ctx) {
		gotErr = err
	}
	if !errors.Is(gotErr, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", gotErr)
	}
}

func TestRenderPrefersLargestImage(t *testing.T) {
	src := &fakeSource{pages: 1, images: map[int][]Image{1: {
		{Data: []byte("small"), MimeType: "image/png"},
		{Data: []byte("much larger jpeg"), MimeType: "image/jpeg"},
		{Data: []byte("an even larger tiff image"), MimeType: "image/tiff"},
	}}}
	doc, _ := New(Config{}).FromSource(src)

	r, err := doc.Render(context.Background(), &Segment{FirstPage: 1, LastPage: 1})
	if err != nil {
		t.Fatal(err)
	}
	if r.MimeType != "image/jpeg" || string(r.Data) != "much larger jpeg" {
		t.Errorf("Render = %s %q", r.MimeType, r.Data)
	}
}

func TestRenderFallsBackToPDF(t *testing.T) {
	src := &fakeSource{pages: 2}
	doc, _ := New(Config{}).FromSource(src)

	r, err := doc.Render(context.Background(), &Segment{FirstPage: 1, LastPage: 2})
	if err != nil {
		t.Fatal(err)
	}
	if r.MimeType != "application/pdf" || string(r.Data) != "%PDF pages 1-2" {
		t.Errorf("Render = %s %q", r.MimeType, r.Data)
	}
}

func TestFromSourceRejectsEmptyDocument(t *testing.T) {
	src := &fakeSource{}
	if _, err := New(Config{}).FromSource(src); !errors.Is(err, ErrNoPages) {
		t.Fatalf("err = %v, want ErrNoPages", err)
	}
	if !src.closed {
		t.Error("source should be closed on rejection")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	_, err := New(Config{}).Open(context.Background(), []byte("definitely not a pdf"))
	if !errors.Is(err, ErrInvalidPDF) {
		t.Fatalf("err = %v, want ErrInvalidPDF", err)
	}
	if _, err := New(Config{}).Open(context.Background(), nil); !errors.Is(err, ErrInvalidPDF) {
		t.Fatalf("empty input err = %v, want ErrInvalidPDF", err)
	}
}
