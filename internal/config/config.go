// Package config loads the service configuration: struct defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Config is the full runtime configuration of the check-in backend.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Auth        AuthConfig        `koanf:"auth"`
	Google      GoogleConfig      `koanf:"google"`
	Roster      RosterConfig      `koanf:"roster"`
	Drive       DriveConfig       `koanf:"drive"`
	ObjectStore ObjectStoreConfig `koanf:"objectstore"`
	Jobs        JobsConfig        `koanf:"jobs"`
	CheckIn     CheckInConfig     `koanf:"checkin"`
	History     HistoryConfig     `koanf:"history"`
	Vertex      VertexConfig      `koanf:"vertex"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	// StartRateLimit caps job starts per client IP per minute.
	StartRateLimit int `koanf:"start_rate_limit"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

type AuthConfig struct {
	// APIKey guards the job start and stream endpoints.
	APIKey string `koanf:"api_key"`
	// SessionSecret verifies HS256 session tokens minted by the front-end.
	SessionSecret string `koanf:"session_secret"`
	// ApprovedUsers is the allowlist of staff emails.
	ApprovedUsers []string `koanf:"approved_users"`
}

type GoogleConfig struct {
	ProjectID    string `koanf:"project_id"`
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	TokenURL     string `koanf:"token_url"`
}

type RosterConfig struct {
	// Backend is "sheets" or "xlsx".
	Backend        string `koanf:"backend"`
	SpreadsheetURL string `koanf:"spreadsheet_url"`
	StudentSheet   string `koanf:"student_sheet"`
	QRCodeSheet    string `koanf:"qrcode_sheet"`
	XLSXPath       string `koanf:"xlsx_path"`
}

type DriveConfig struct {
	FolderID string `koanf:"folder_id"`
	// UploadsPerSecond paces Drive uploads across all jobs.
	UploadsPerSecond float64 `koanf:"uploads_per_second"`
	UploadBurst      int     `koanf:"upload_burst"`
}

type ObjectStoreConfig struct {
	// Backend is "gcs", "s3" or "memory".
	Backend    string        `koanf:"backend"`
	Bucket     string        `koanf:"bucket"`
	PresignTTL time.Duration `koanf:"presign_ttl"`
	S3         S3Config      `koanf:"s3"`
}

// S3Config targets any S3-compatible endpoint. With AccountID set and no
// Endpoint, the Cloudflare R2 endpoint for that account is used.
type S3Config struct {
	AccountID string `koanf:"account_id"`
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
}

type JobsConfig struct {
	// SegmentMode is "fixed" or "marker".
	SegmentMode     string        `koanf:"segment_mode"`
	PagesPerStudent int           `koanf:"pages_per_student"`
	Marker          string        `koanf:"marker"`
	Concurrency     int           `koanf:"concurrency"`
	ReportAmbiguous bool          `koanf:"report_ambiguous"`
	Retention       time.Duration `koanf:"retention"`
	ReapInterval    time.Duration `koanf:"reap_interval"`
	DeleteSource    bool          `koanf:"delete_source"`
	// UpdateStudentSheet also writes the link into the student table's
	// "qr code" column when that column exists.
	UpdateStudentSheet bool `koanf:"update_student_sheet"`
	// IngestPrefix selects the objects the finalize trigger processes.
	// Browser uploads use the mass_qr_ prefix and are started through the API.
	IngestPrefix string `koanf:"ingest_prefix"`
}

type CheckInConfig struct {
	WorkflowID       string        `koanf:"workflow_id"`
	WorkflowLocation string        `koanf:"workflow_location"`
	PollInterval     time.Duration `koanf:"poll_interval"`
	Timeout          time.Duration `koanf:"timeout"`
}

type HistoryConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Collection string `koanf:"collection"`
}

type VertexConfig struct {
	Enabled bool   `koanf:"enabled"`
	Region  string `koanf:"region"`
	Model   string `koanf:"model"`
}

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// SpreadsheetID extracts the id from the configured spreadsheet URL. A bare
// id is returned unchanged.
func (r RosterConfig) SpreadsheetID() (string, error) {
	if m := spreadsheetIDPattern.FindStringSubmatch(r.SpreadsheetURL); m != nil {
		return m[1], nil
	}
	if r.SpreadsheetURL != "" && !strings.Contains(r.SpreadsheetURL, "/") {
		return r.SpreadsheetURL, nil
	}
	return "", fmt.Errorf("invalid Google Sheets URL %q", r.SpreadsheetURL)
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Roster.Backend {
	case "sheets":
		if _, err := c.Roster.SpreadsheetID(); err != nil {
			errs = append(errs, fmt.Errorf("roster.spreadsheet_url: %w", err))
		}
		if c.Roster.StudentSheet == "" || c.Roster.QRCodeSheet == "" {
			errs = append(errs, errors.New("roster.student_sheet and roster.qrcode_sheet must be set"))
		}
	case "xlsx":
		if c.Roster.XLSXPath == "" {
			errs = append(errs, errors.New("roster.xlsx_path must be set for the xlsx backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("roster.backend %q: want sheets or xlsx", c.Roster.Backend))
	}
	switch c.ObjectStore.Backend {
	case "gcs", "memory":
	case "s3":
		if c.ObjectStore.S3.Endpoint == "" && c.ObjectStore.S3.AccountID == "" {
			errs = append(errs, errors.New("objectstore.s3 needs endpoint or account_id"))
		}
	default:
		errs = append(errs, fmt.Errorf("objectstore.backend %q: want gcs, s3 or memory", c.ObjectStore.Backend))
	}
	if c.ObjectStore.Bucket == "" {
		errs = append(errs, errors.New("objectstore.bucket must be set"))
	}
	switch c.Jobs.SegmentMode {
	case "fixed":
		if c.Jobs.PagesPerStudent < 1 {
			errs = append(errs, errors.New("jobs.pages_per_student must be at least 1"))
		}
	case "marker":
	default:
		errs = append(errs, fmt.Errorf("jobs.segment_mode %q: want fixed or marker", c.Jobs.SegmentMode))
	}
	if c.Jobs.Marker == "" {
		errs = append(errs, errors.New("jobs.marker must not be empty"))
	}
	if c.Jobs.Concurrency < 1 {
		errs = append(errs, errors.New("jobs.concurrency must be at least 1"))
	}
	if c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set"))
	}
	if (c.History.Enabled || c.Vertex.Enabled || c.CheckIn.WorkflowID != "") && c.Google.ProjectID == "" {
		errs = append(errs, errors.New("google.project_id is required by history, vertex and checkin"))
	}
	return errors.Join(errs...)
}
