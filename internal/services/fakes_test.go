package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Lllllllleong/mathcheckin/internal/filehost"
	"github.com/Lllllllleong/mathcheckin/internal/models"
	"github.com/Lllllllleong/mathcheckin/internal/roster"
	"github.com/Lllllllleong/mathcheckin/internal/segmenter"
)

// pageSource serves fixed page texts as a segmenter.Source.
type pageSource struct {
	pages  []string
	images map[int]segmenter.Image
}

func (s *pageSource) PageCount() int { return len(s.pages) }

func (s *pageSource) PageText(ctx context.Context, page int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.pages[page-1], nil
}

func (s *pageSource) PagesPDF(_ context.Context, first, last int) ([]byte, error) {
	return []byte(fmt.Sprintf("%%PDF-pages-%d-%d", first, last)), nil
}

func (s *pageSource) PageImages(_ context.Context, first, last int) ([]segmenter.Image, error) {
	var out []segmenter.Image
	for p := first; p <= last; p++ {
		if img, ok := s.images[p]; ok {
			out = append(out, img)
		}
	}
	return out, nil
}

func (s *pageSource) Close() error { return nil }

// pageOpener ignores the PDF bytes and opens a fixed page source.
type pageOpener struct {
	src *pageSource
	err error
}

func (o *pageOpener) Open(_ context.Context, _ []byte) (*segmenter.Document, error) {
	if o.err != nil {
		return nil, o.err
	}
	return segmenter.New(segmenter.Config{}).FromSource(o.src)
}

// memRoster is an in-memory roster.Store.
type memRoster struct {
	mu       sync.Mutex
	students [][]string
	qr       [][]string
	readErr  error
	writeErr error
}

func copyTable(t [][]string) [][]string {
	out := make([][]string, len(t))
	for i, row := range t {
		out[i] = append([]string(nil), row...)
	}
	return out
}

func (m *memRoster) ReadStudents(context.Context) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return copyTable(m.students), nil
}

func (m *memRoster) WriteStudents(_ context.Context, rows [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students = copyTable(rows)
	return nil
}

func (m *memRoster) UpdateStudentCell(_ context.Context, row, col int, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.students[row]) <= col {
		m.students[row] = append(m.students[row], "")
	}
	m.students[row][col] = value
	return nil
}

func (m *memRoster) ReadQRCodes(context.Context) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyTable(m.qr), nil
}

func (m *memRoster) WriteQRCodes(_ context.Context, rows [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qr = copyTable(rows)
	return nil
}

func (m *memRoster) UpsertQRCode(_ context.Context, studentID, url string) (roster.UpsertAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return "", m.writeErr
	}
	for _, row := range m.qr {
		if len(row) > 0 && row[0] == studentID {
			row[1] = url
			return roster.ActionUpdated, nil
		}
	}
	m.qr = append(m.qr, []string{studentID, url})
	return roster.ActionAdded, nil
}

// memFiles is an in-memory filehost.Host.
type memFiles struct {
	mu       sync.Mutex
	uploads  []filehost.File
	failFor  map[string]error
	stored   map[string]*filehost.Download
	lastCred models.Credentials
}

func (f *memFiles) Upload(_ context.Context, file filehost.File, creds models.Credentials) (string, error) {
	if _, err := filehost.Extension(file.MimeType); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[file.StudentID]; err != nil {
		return "", err
	}
	f.uploads = append(f.uploads, file)
	f.lastCred = creds
	return filehost.PublicURL("file-" + file.StudentID), nil
}

func (f *memFiles) Fetch(_ context.Context, fileID string) (*filehost.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dl, ok := f.stored[fileID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", filehost.ErrNotFound, fileID)
	}
	return dl, nil
}

// memHistory records run history calls.
type memHistory struct {
	mu     sync.Mutex
	begun  []models.BatchRun
	status map[string]string
	// done maps file hashes to the job that completed them.
	done map[string]string
}

func (h *memHistory) Begin(_ context.Context, run models.BatchRun) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.begun = append(h.begun, run)
	return nil
}

func (h *memHistory) Finish(_ context.Context, jobID, status string, _ *models.Summary, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == nil {
		h.status = make(map[string]string)
	}
	h.status[jobID] = status
	return nil
}

func (h *memHistory) FindByHash(_ context.Context, hash string) (string, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.done[hash]
	return id, ok, nil
}

func (h *memHistory) statusOf(jobID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status[jobID]
}

var errStoreDown = errors.New("sheets unavailable")

func studentTable() [][]string {
	return [][]string{
		{"First Name", "Last Name", "Student ID", "QR Code", "Last Attendance Date"},
		{"Alice", "Smith", "1", "", ""},
		{"Bob", "Lee", "2", "", ""},
	}
}

func tokenPages(names ...string) []string {
	pages := make([]string, len(names))
	for i, n := range names {
		pages[i] = fmt.Sprintf("Student QR\nUUID: %d\n%s\n", i+1, n)
	}
	return pages
}

func assertMonotonic(t *testing.T, events []models.ProgressEvent) {
	t.Helper()
	for i := 1; i < len(events); i++ {
		if events[i].Progress < events[i-1].Progress {
			t.Fatalf("progress decreased at %d: %d -> %d", i, events[i-1].Progress, events[i].Progress)
		}
	}
}

func joined(s []string) string { return strings.Join(s, ",") }
