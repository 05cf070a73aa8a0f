package api

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/mathcheckin/internal/auth"
	"github.com/Lllllllleong/mathcheckin/internal/jobs"
	"github.com/Lllllllleong/mathcheckin/internal/models"
	"github.com/Lllllllleong/mathcheckin/internal/objectstore"
	"github.com/Lllllllleong/mathcheckin/internal/roster"
	"github.com/Lllllllleong/mathcheckin/internal/services"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testAPIKey = "terminal-key"
	testSecret = "session-secret"
	staffEmail = "staff@example.com"
)

type stubBatch struct {
	mu   sync.Mutex
	srcs []services.BatchSource
	reg  *jobs.Registry
	err  error
}

func (s *stubBatch) Start(_ context.Context, src services.BatchSource) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	s.srcs = append(s.srcs, src)
	s.mu.Unlock()
	return s.reg.Create(models.JobKindBatch, src.ObjectKey).ID, nil
}

type stubCheckIn struct {
	reg  *jobs.Registry
	reqs []models.CheckInRequest
}

func (s *stubCheckIn) Start(_ context.Context, req models.CheckInRequest) (string, error) {
	s.reqs = append(s.reqs, req)
	return s.reg.Create(models.JobKindCheckIn, "").ID, nil
}

type stubQRUpload struct {
	previewed []byte
	confirmed *services.ConfirmUpload
}

func (s *stubQRUpload) Preview(_ context.Context, pdf []byte, contentType string) (*models.QRUploadPreview, error) {
	if contentType != "application/pdf" {
		return nil, services.ErrInvalidRequest
	}
	s.previewed = pdf
	return &models.QRUploadPreview{
		Success:     true,
		StudentInfo: &models.StudentInfo{FirstName: "Alice", LastName: "Smith", StudentID: "1", RowIndex: 1},
		Token:       models.Token{ID: "1", Name: "Alice Smith"},
	}, nil
}

func (s *stubQRUpload) Confirm(_ context.Context, up services.ConfirmUpload) (*models.QRUploadConfirmation, error) {
	s.confirmed = &up
	return &models.QRUploadConfirmation{Success: true, StudentID: "1", Action: "added", DriveURL: "https://drive.google.com/file/d/x/view"}, nil
}

type stubImages struct{}

func (stubImages) Resolve(_ context.Context, req models.QRImageRequest) (*models.QRImageResponse, error) {
	if req.StudentID == "" && req.QRCodeURL == "" {
		return nil, services.ErrInvalidRequest
	}
	if req.StudentID == "404" {
		return nil, services.ErrQRCodeNotFound
	}
	return &models.QRImageResponse{Success: true, ImageData: "data:image/png;base64,AA==", MimeType: "image/png"}, nil
}

// tableRoster serves fixed tables.
type tableRoster struct {
	students [][]string
	qr       [][]string
	err      error
}

func (t *tableRoster) ReadStudents(context.Context) ([][]string, error) { return t.students, t.err }
func (t *tableRoster) WriteStudents(context.Context, [][]string) error { return nil }
func (t *tableRoster) UpdateStudentCell(context.Context, int, int, string) error {
	return nil
}
func (t *tableRoster) ReadQRCodes(context.Context) ([][]string, error) { return t.qr, t.err }
func (t *tableRoster) WriteQRCodes(context.Context, [][]string) error { return nil }
func (t *tableRoster) UpsertQRCode(context.Context, string, string) (roster.UpsertAction, error) {
	return roster.ActionAdded, nil
}

type fixture struct {
	t        *testing.T
	auth     *auth.Authenticator
	registry *jobs.Registry
	batch    *stubBatch
	checkIn  *stubCheckIn
	qr       *stubQRUpload
	objects  *objectstore.Memory
	roster   *tableRoster
	router   http.Handler
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	reg := jobs.NewRegistry(context.Background())
	f := &fixture{
		t:        t,
		auth:     auth.New(testAPIKey, testSecret, []string{staffEmail}),
		registry: reg,
		batch:    &stubBatch{reg: reg},
		checkIn:  &stubCheckIn{reg: reg},
		qr:       &stubQRUpload{},
		objects:  objectstore.NewMemory("http://localhost/objects"),
		roster: &tableRoster{
			students: [][]string{
				{"First Name", "Last Name", "Student ID", "Center"},
				{"Alice", "Smith", "1", "North"},
				{"Bob", "Lee", "2", "South"},
				{"Cara", "Diaz", "3", " North "},
			},
			qr: [][]string{{"Student ID", "QR Code"}, {"1", "https://drive.google.com/file/d/a/view"}},
		},
	}
	if opts.Heartbeat == 0 {
		opts.Heartbeat = time.Second
	}
	h := NewHandler(Deps{
		Auth:     f.auth,
		Registry: reg,
		Batch:    f.batch,
		CheckIn:  f.checkIn,
		QRUpload: f.qr,
		Images:   stubImages{},
		Objects:  f.objects,
		Roster:   f.roster,
	}, opts)
	f.router = NewRouter(h)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	f.t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) session(email string) string {
	f.t.Helper()
	return "Bearer " + signSession(f.t, email, time.Hour)
}

// signSession mints an HS256 session token with the fixture secret.
func signSession(t *testing.T, email string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func jsonRequest(method, target string, body any) *http.Request {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartRequest(t *testing.T, target, contentType string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="batch 1.pdf"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody[T any](t *testing.T, r io.Reader) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	body := decodeBody[models.ErrorResponse](t, rec.Body)
	if body.Code != code {
		t.Errorf("code = %q, want %q", body.Code, code)
	}
	if body.RequestID == "" {
		t.Error("error body has no requestId")
	}
}
