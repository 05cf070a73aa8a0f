// Package filehost uploads per-student QR files to Google Drive and reads
// them back for display.
package filehost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/Lllllllleong/mathcheckin/internal/metrics"
	"github.com/Lllllllleong/mathcheckin/internal/models"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

var (
	ErrUnsupportedMime = errors.New("only PDF and image files are allowed")
	ErrNoAccessToken   = errors.New("no access token provided")
	ErrAuthExpired     = errors.New("authentication failed, sign in again")
	ErrUnavailable     = errors.New("file host temporarily unavailable")
	ErrNotFound        = errors.New("file not found")
	ErrInvalidURL      = errors.New("invalid Google Drive file URL")
)

var extensions = map[string]string{
	"application/pdf": ".pdf",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/jpg":       ".jpg",
}

// Extension returns the file extension for an allowed mime type.
func Extension(mimeType string) (string, error) {
	ext, ok := extensions[mimeType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMime, mimeType)
	}
	return ext, nil
}

// File is one upload. StudentID and FullName name the file; Name overrides
// the generated name when set.
type File struct {
	Data        []byte
	MimeType    string
	Name        string
	StudentID   string
	FullName    string
	Timestamped bool
}

// Download is a file read back from the host.
type Download struct {
	MimeType string
	Name     string
	Data     []byte
}

// Host is the file host boundary used by the job controllers.
type Host interface {
	Upload(ctx context.Context, f File, creds models.Credentials) (string, error)
	Fetch(ctx context.Context, fileID string) (*Download, error)
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9-_]`)

// FileName builds <studentId>_<safeName>_QR[_<unix-ms>]<ext>.
func FileName(f File, ext string, now time.Time) string {
	if f.Name != "" {
		return f.Name
	}
	if f.StudentID == "" || f.FullName == "" {
		return "QR_code_" + strconv.FormatInt(now.UnixMilli(), 10) + ext
	}
	name := f.StudentID + "_" + unsafeChars.ReplaceAllString(f.FullName, "_") + "_QR"
	if f.Timestamped {
		name += "_" + strconv.FormatInt(now.UnixMilli(), 10)
	}
	return name + ext
}

// PublicURL is the shareable view link of a Drive file.
func PublicURL(fileID string) string {
	return "https://drive.google.com/file/d/" + fileID + "/view"
}

var fileIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/file/d/([a-zA-Z0-9-_]+)`),
	regexp.MustCompile(`id=([a-zA-Z0-9-_]+)`),
	regexp.MustCompile(`/d/([a-zA-Z0-9-_]+)$`),
}

// ExtractFileID pulls the Drive file id out of the link forms in use.
func ExtractFileID(url string) (string, error) {
	for _, p := range fileIDPatterns {
		if m := p.FindStringSubmatch(url); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidURL, url)
}

// Config holds the Drive folder and OAuth client used for token refresh.
type Config struct {
	FolderID         string
	ClientID         string
	ClientSecret     string
	TokenURL         string
	UploadsPerSecond float64
	UploadBurst      int
}

// Drive uploads with the staff member's OAuth token and reads with the
// service credentials.
type Drive struct {
	cfg      Config
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[string]
	reader   *drive.Service
	endpoint string
	client   *http.Client
	now      func() time.Time
	backoff  time.Duration
}

type Option func(*Drive)

// WithReader sets the service-credential client used by Fetch.
func WithReader(svc *drive.Service) Option {
	return func(d *Drive) { d.reader = svc }
}

// WithEndpoint points user clients at another API root.
func WithEndpoint(url string) Option {
	return func(d *Drive) { d.endpoint = url }
}

// WithHTTPClient sets the base client wrapped by the bearer transport.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Drive) { d.client = c }
}

// WithRetryBackoff sets the first delay before a transient failure is
// retried. Later delays double.
func WithRetryBackoff(d time.Duration) Option {
	return func(dr *Drive) { dr.backoff = d }
}

func WithClock(now func() time.Time) Option {
	return func(d *Drive) { d.now = now }
}

const breakerName = "drive-upload"

func NewDrive(cfg Config, opts ...Option) *Drive {
	limit := rate.Inf
	if cfg.UploadsPerSecond > 0 {
		limit = rate.Limit(cfg.UploadsPerSecond)
	}
	burst := cfg.UploadBurst
	if burst < 1 {
		burst = 1
	}

	d := &Drive{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		client:  http.DefaultClient,
		now:     time.Now,
		backoff: time.Second,
	}
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	d.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Drive circuit breaker changed state.", "from", from.String(), "to", to.String())
			metrics.RecordBreakerTransition(name, from, to)
		},
		// Caller errors say nothing about Drive health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrAuthExpired) || errors.Is(err, context.Canceled)
		},
	})
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Upload stores f in the configured folder, shares it read-only with anyone
// holding the link and returns that link. A 401 is retried once after
// exchanging the refresh token for a new access token; 429 and 5xx answers
// are retried with doubling backoff. Each step repeats on its own, so a
// failed share never creates a second file.
func (d *Drive) Upload(ctx context.Context, f File, creds models.Credentials) (string, error) {
	ext, err := Extension(f.MimeType)
	if err != nil {
		metrics.FileHostUploads.WithLabelValues("rejected").Inc()
		return "", err
	}
	if creds.AccessToken == "" {
		return "", ErrNoAccessToken
	}
	name := FileName(f, ext, d.now())

	if err := d.limiter.Wait(ctx); err != nil {
		return "", err
	}

	start := time.Now()
	url, err := d.breaker.Execute(func() (string, error) {
		return d.uploadWithRefresh(ctx, f, name, creds)
	})
	metrics.FileHostUploadDuration.Observe(time.Since(start).Seconds())
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.FileHostUploads.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		metrics.FileHostUploads.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.FileHostUploads.WithLabelValues("success").Inc()
	return url, nil
}

func (d *Drive) uploadWithRefresh(ctx context.Context, f File, name string, creds models.Credentials) (string, error) {
	s := &userSession{drive: d, name: name, token: creds.AccessToken, refreshToken: creds.RefreshToken}

	var fileID string
	err := s.do(ctx, func(svc *drive.Service) error {
		meta := &drive.File{Name: name, Parents: []string{d.cfg.FolderID}}
		created, err := svc.Files.Create(meta).
			Media(bytes.NewReader(f.Data), googleapi.ContentType(f.MimeType)).
			Fields("id").
			SupportsAllDrives(true).
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("failed to create file %s: %w", name, err)
		}
		fileID = created.Id
		return nil
	})
	if err != nil {
		return "", err
	}

	err = s.do(ctx, func(svc *drive.Service) error {
		perm := &drive.Permission{Role: "reader", Type: "anyone"}
		if _, err := svc.Permissions.Create(fileID, perm).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to share file %s: %w", fileID, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return PublicURL(fileID), nil
}

// maxUploadAttempts bounds the tries of one upload step on transient errors.
const maxUploadAttempts = 4

// userSession carries one staff token across the steps of an upload. The
// token is refreshed at most once, and only the failing step is repeated.
type userSession struct {
	drive        *Drive
	name         string
	token        string
	refreshToken string
	refreshed    bool
	svc          *drive.Service
}

func (s *userSession) do(ctx context.Context, step func(*drive.Service) error) error {
	backoff := s.drive.backoff
	for attempt := 1; ; {
		if s.svc == nil {
			svc, err := s.drive.userService(ctx, s.token)
			if err != nil {
				return fmt.Errorf("failed to create Drive client: %w", err)
			}
			s.svc = svc
		}

		err := step(s.svc)
		switch {
		case err == nil:
			return nil
		case isUnauthorized(err):
			if s.refreshed || s.refreshToken == "" {
				return fmt.Errorf("%w: %v", ErrAuthExpired, err)
			}
			slog.Info("Drive rejected the access token, refreshing.", "file", s.name)
			token, rerr := s.drive.refresh(ctx, s.refreshToken)
			if rerr != nil {
				return fmt.Errorf("%w: %v", ErrAuthExpired, rerr)
			}
			metrics.FileHostUploads.WithLabelValues("refreshed").Inc()
			s.token, s.svc, s.refreshed = token, nil, true
		case isTransient(err) && attempt < maxUploadAttempts:
			slog.Warn("Drive request failed, will retry.",
				"file", s.name,
				"attempt", attempt,
				"maxAttempts", maxUploadAttempts,
				"backoff", backoff.String(),
				"error", err,
			)
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				slog.Error("Context cancelled during backoff. Aborting retries.", "file", s.name, "error", ctx.Err())
				return ctx.Err()
			}
			attempt++
		default:
			return err
		}
	}
}

func (d *Drive) userService(ctx context.Context, token string) (*drive.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	hc := &http.Client{Transport: &oauth2.Transport{Source: ts, Base: d.client.Transport}}
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if d.endpoint != "" {
		opts = append(opts, option.WithEndpoint(d.endpoint))
	}
	return drive.NewService(ctx, opts...)
}

func (d *Drive) refresh(ctx context.Context, refreshToken string) (string, error) {
	conf := &oauth2.Config{
		ClientID:     d.cfg.ClientID,
		ClientSecret: d.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  d.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.client)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}
	return tok.AccessToken, nil
}

// Fetch downloads a file with the service credentials.
func (d *Drive) Fetch(ctx context.Context, fileID string) (*Download, error) {
	if d.reader == nil {
		return nil, errors.New("drive reader not configured")
	}
	meta, err := d.reader.Files.Get(fileID).Fields("mimeType,name").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return nil, classify(fileID, err)
	}

	resp, err := d.reader.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, classify(fileID, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", fileID, err)
	}
	return &Download{MimeType: meta.MimeType, Name: meta.Name, Data: data}, nil
}

func classify(fileID string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, fileID)
	}
	return fmt.Errorf("failed to fetch file %s: %w", fileID, err)
}

// isTransient reports rate limiting and server-side failures worth retrying.
func isTransient(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	switch gerr.Code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isUnauthorized(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized
}
