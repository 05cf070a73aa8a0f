package filehost

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/mathcheckin/internal/models"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// fakeDrive answers files.create, permissions.create, files.get and the
// OAuth token endpoint.
type fakeDrive struct {
	mu          sync.Mutex
	validToken  string
	refreshOK   bool
	requests    []string
	uploadNames []string

	// failCreates answers that many files.create calls with 503.
	failCreates int
	// rotateOnCreate revokes the current token once a file is created, so
	// the share step sees a 401.
	rotateOnCreate bool
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/token" {
		_ = r.ParseForm()
		if !f.refreshOK || r.Form.Get("grant_type") != "refresh_token" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`)
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+f.validToken {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"code":401,"message":"Invalid Credentials"}}`)
		return
	}

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/permissions"):
		_, _ = io.WriteString(w, `{"id":"anyoneWithLink"}`)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/files"):
		if f.failCreates > 0 {
			f.failCreates--
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":{"code":503,"message":"Backend Error"}}`)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.uploadNames = append(f.uploadNames, string(body))
		if f.rotateOnCreate {
			f.rotateOnCreate = false
			f.validToken = "fresh"
		}
		_, _ = io.WriteString(w, `{"id":"file123"}`)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/files/missing"):
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"File not found"}}`)
	case r.Method == http.MethodGet && r.URL.Query().Get("alt") == "media":
		w.Header().Set("Content-Type", "image/png")
		_, _ = io.WriteString(w, "PNGDATA")
	case r.Method == http.MethodGet:
		_, _ = io.WriteString(w, `{"mimeType":"image/png","name":"1_Alice_QR.png"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeDrive) creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if strings.HasPrefix(r, http.MethodPost) && strings.HasSuffix(r, "/files") {
			n++
		}
	}
	return n
}

func (f *fakeDrive) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestDrive(t *testing.T, fake *fakeDrive, opts ...Option) *Drive {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	reader, err := drive.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/drive/v3/"),
		option.WithHTTPClient(&http.Client{Transport: bearer{token: fake.validToken}}),
	)
	if err != nil {
		t.Fatal(err)
	}
	base := []Option{
		WithEndpoint(srv.URL + "/drive/v3/"),
		WithHTTPClient(srv.Client()),
		WithReader(reader),
		WithClock(func() time.Time { return time.UnixMilli(1700000000000) }),
		WithRetryBackoff(time.Millisecond),
	}
	return NewDrive(Config{
		FolderID:     "folder",
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     srv.URL + "/token",
	}, append(base, opts...)...)
}

type bearer struct{ token string }

func (b bearer) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+b.token)
	return http.DefaultTransport.RoundTrip(r)
}

func pngFile() File {
	return File{Data: []byte("png"), MimeType: "image/png", StudentID: "1", FullName: "Alice Smith"}
}

func TestUploadRejectsUnsupportedMimeBeforeAnyRequest(t *testing.T) {
	fake := &fakeDrive{validToken: "tok"}
	d := newTestDrive(t, fake)

	_, err := d.Upload(context.Background(), File{Data: []byte("hi"), MimeType: "text/plain"}, models.Credentials{AccessToken: "tok"})
	if !errors.Is(err, ErrUnsupportedMime) {
		t.Fatalf("err = %v, want ErrUnsupportedMime", err)
	}
	if n := fake.count(); n != 0 {
		t.Errorf("%d requests reached the host, want 0", n)
	}
}

func TestUploadSharesAndReturnsViewLink(t *testing.T) {
	fake := &fakeDrive{validToken: "tok"}
	d := newTestDrive(t, fake)

	url, err := d.Upload(context.Background(), pngFile(), models.Credentials{AccessToken: "tok"})
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://drive.google.com/file/d/file123/view" {
		t.Errorf("url = %q", url)
	}
	if len(fake.requests) != 2 || !strings.HasSuffix(fake.requests[1], "/files/file123/permissions") {
		t.Errorf("requests = %v, want create then permission", fake.requests)
	}
	if !strings.Contains(fake.uploadNames[0], "1_Alice_Smith_QR.png") {
		t.Errorf("upload metadata does not carry the generated name")
	}
}

func TestUploadRefreshesOnceOn401(t *testing.T) {
	fake := &fakeDrive{validToken: "fresh", refreshOK: true}
	d := newTestDrive(t, fake)

	url, err := d.Upload(context.Background(), pngFile(), models.Credentials{AccessToken: "stale", RefreshToken: "r"})
	if err != nil {
		t.Fatal(err)
	}
	if url == "" {
		t.Fatal("empty url")
	}
	var tokenCalls int
	for _, r := range fake.requests {
		if strings.HasSuffix(r, "/token") {
			tokenCalls++
		}
	}
	if tokenCalls != 1 {
		t.Errorf("token endpoint called %d times, want 1", tokenCalls)
	}
}

func TestUploadAuthExpired(t *testing.T) {
	tests := []struct {
		name  string
		creds models.Credentials
	}{
		{"refresh rejected", models.Credentials{AccessToken: "stale", RefreshToken: "r"}},
		{"no refresh token", models.Credentials{AccessToken: "stale"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDrive(t, &fakeDrive{validToken: "fresh"})
			_, err := d.Upload(context.Background(), pngFile(), tt.creds)
			if !errors.Is(err, ErrAuthExpired) {
				t.Fatalf("err = %v, want ErrAuthExpired", err)
			}
		})
	}
}

func TestUploadRetriesTransientFailure(t *testing.T) {
	fake := &fakeDrive{validToken: "tok", failCreates: 1}
	d := newTestDrive(t, fake)

	url, err := d.Upload(context.Background(), pngFile(), models.Credentials{AccessToken: "tok"})
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://drive.google.com/file/d/file123/view" {
		t.Errorf("url = %q", url)
	}
	if n := fake.creates(); n != 2 {
		t.Errorf("files.create called %d times, want 2", n)
	}
}

func TestUploadGivesUpAfterMaxAttempts(t *testing.T) {
	fake := &fakeDrive{validToken: "tok", failCreates: 10}
	d := newTestDrive(t, fake)

	_, err := d.Upload(context.Background(), pngFile(), models.Credentials{AccessToken: "tok"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !isTransient(err) {
		t.Errorf("err = %v, want the last 503", err)
	}
	if n := fake.creates(); n != maxUploadAttempts {
		t.Errorf("files.create called %d times, want %d", n, maxUploadAttempts)
	}
}

func TestUploadStopsRetryingWhenContextEnds(t *testing.T) {
	fake := &fakeDrive{validToken: "tok", failCreates: 10}
	d := newTestDrive(t, fake, WithRetryBackoff(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := d.Upload(ctx, pngFile(), models.Credentials{AccessToken: "tok"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	if n := fake.creates(); n != 1 {
		t.Errorf("files.create called %d times, want 1", n)
	}
}

func TestUploadShareRefreshDoesNotRecreateFile(t *testing.T) {
	fake := &fakeDrive{validToken: "stale", refreshOK: true, rotateOnCreate: true}
	d := newTestDrive(t, fake)

	url, err := d.Upload(context.Background(), pngFile(), models.Credentials{AccessToken: "stale", RefreshToken: "r"})
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://drive.google.com/file/d/file123/view" {
		t.Errorf("url = %q", url)
	}
	if n := fake.creates(); n != 1 {
		t.Errorf("files.create called %d times, want 1", n)
	}
	var shares int
	for _, r := range fake.requests {
		if strings.HasSuffix(r, "/permissions") {
			shares++
		}
	}
	if shares != 2 {
		t.Errorf("permissions.create called %d times, want 2", shares)
	}
}

func TestUploadRequiresAccessToken(t *testing.T) {
	d := newTestDrive(t, &fakeDrive{validToken: "tok"})
	if _, err := d.Upload(context.Background(), pngFile(), models.Credentials{}); !errors.Is(err, ErrNoAccessToken) {
		t.Fatalf("err = %v", err)
	}
}

func TestFetch(t *testing.T) {
	d := newTestDrive(t, &fakeDrive{validToken: "svc"})

	got, err := d.Fetch(context.Background(), "file123")
	if err != nil {
		t.Fatal(err)
	}
	if got.MimeType != "image/png" || string(got.Data) != "PNGDATA" || got.Name != "1_Alice_QR.png" {
		t.Errorf("Fetch = %+v", got)
	}

	if _, err := d.Fetch(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing file err = %v", err)
	}
}

func TestFileName(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	tests := []struct {
		name string
		file File
		want string
	}{
		{"plain", File{StudentID: "42", FullName: "Zoë O'Neil"}, "42_Zo__O_Neil_QR.pdf"},
		{"timestamped", File{StudentID: "42", FullName: "Ann Lee", Timestamped: true}, "42_Ann_Lee_QR_1700000000000.pdf"},
		{"anonymous", File{}, "QR_code_1700000000000.pdf"},
		{"explicit", File{Name: "scan.pdf", StudentID: "1", FullName: "X"}, "scan.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FileName(tt.file, ".pdf", now); got != tt.want {
				t.Errorf("FileName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractFileID(t *testing.T) {
	tests := map[string]string{
		"https://drive.google.com/file/d/abc-123_x/view": "abc-123_x",
		"https://drive.google.com/open?id=XYZ":           "XYZ",
		"https://docs.google.com/d/q1":                   "q1",
	}
	for in, want := range tests {
		got, err := ExtractFileID(in)
		if err != nil || got != want {
			t.Errorf("ExtractFileID(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ExtractFileID("https://example.com/nothing"); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("err = %v", err)
	}
}

func TestExtension(t *testing.T) {
	for mime, want := range map[string]string{"application/pdf": ".pdf", "image/png": ".png", "image/jpeg": ".jpg", "image/jpg": ".jpg"} {
		if got, err := Extension(mime); err != nil || got != want {
			t.Errorf("Extension(%q) = %q, %v", mime, got, err)
		}
	}
}
