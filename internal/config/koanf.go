package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar points at an explicit YAML config file.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"/etc/mathcheckin/config.yaml",
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
			StartRateLimit:  30,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Google: GoogleConfig{
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Roster: RosterConfig{
			Backend:      "sheets",
			StudentSheet: "Students",
			QRCodeSheet:  "QRCodes",
		},
		Drive: DriveConfig{
			UploadsPerSecond: 5,
			UploadBurst:      5,
		},
		ObjectStore: ObjectStoreConfig{
			Backend:    "gcs",
			Bucket:     "mathcheckin-pdfs",
			PresignTTL: 30 * time.Minute,
			S3:         S3Config{Region: "auto"},
		},
		Jobs: JobsConfig{
			SegmentMode:        "fixed",
			PagesPerStudent:    1,
			Marker:             "UUID:",
			Concurrency:        1,
			Retention:          10 * time.Minute,
			ReapInterval:       time.Minute,
			UpdateStudentSheet: true,
			IngestPrefix:       "ingest/",
		},
		CheckIn: CheckInConfig{
			WorkflowLocation: "us-central1",
			PollInterval:     2 * time.Second,
			Timeout:          5 * time.Minute,
		},
		History: HistoryConfig{Collection: "qrBatchRuns"},
		Vertex: VertexConfig{
			Region: "us-central1",
			Model:  "gemini-1.5-flash",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file if one is
// found, then environment variables. The result is validated.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	// Cloud Run injects PORT as a bare number.
	if cfg.Server.Addr != "" && !strings.Contains(cfg.Server.Addr, ":") {
		cfg.Server.Addr = ":" + cfg.Server.Addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths are list settings that arrive from the environment as a
// single string separated by spaces or commas.
var sliceConfigPaths = []string{
	"auth.approved_users",
	"server.allowed_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.FieldsFunc(s, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		})
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps deployment environment variable names to config paths.
// Variables not listed here are ignored.
var envMappings = map[string]string{
	"port":                  "server.addr",
	"http_addr":             "server.addr",
	"shutdown_timeout":      "server.shutdown_timeout",
	"allowed_origins":       "server.allowed_origins",
	"start_rate_limit":      "server.start_rate_limit",
	"log_level":             "logging.level",
	"log_format":            "logging.format",
	"log_caller":            "logging.caller",
	"api_key":               "auth.api_key",
	"session_secret":        "auth.session_secret",
	"approved_users":        "auth.approved_users",
	"project_id":            "google.project_id",
	"gcp_project":           "google.project_id",
	"auth_google_id":        "google.client_id",
	"auth_google_secret":    "google.client_secret",
	"google_token_url":      "google.token_url",
	"roster_backend":        "roster.backend",
	"homedata":              "roster.spreadsheet_url",
	"studentdatasheet":      "roster.student_sheet",
	"qrcodesheet":           "roster.qrcode_sheet",
	"roster_xlsx_path":      "roster.xlsx_path",
	"qrcodefolder":          "drive.folder_id",
	"drive_uploads_per_sec": "drive.uploads_per_second",
	"drive_upload_burst":    "drive.upload_burst",
	"objectstore_backend":   "objectstore.backend",
	"pdf_bucket":            "objectstore.bucket",
	"presign_ttl":           "objectstore.presign_ttl",
	"r2_account_id":         "objectstore.s3.account_id",
	"r2_endpoint":           "objectstore.s3.endpoint",
	"r2_access_key_id":      "objectstore.s3.access_key",
	"r2_secret_access_key":  "objectstore.s3.secret_key",
	"segment_mode":          "jobs.segment_mode",
	"pages_per_student":     "jobs.pages_per_student",
	"qr_marker":             "jobs.marker",
	"job_concurrency":       "jobs.concurrency",
	"report_ambiguous":      "jobs.report_ambiguous",
	"job_retention":         "jobs.retention",
	"delete_source_pdf":     "jobs.delete_source",
	"ingest_prefix":         "jobs.ingest_prefix",
	"checkin_workflow_id":   "checkin.workflow_id",
	"workflow_location":     "checkin.workflow_location",
	"checkin_poll_interval": "checkin.poll_interval",
	"checkin_timeout":       "checkin.timeout",
	"history_enabled":       "history.enabled",
	"history_collection":    "history.collection",
	"vertex_enabled":        "vertex.enabled",
	"vertex_ai_region":      "vertex.region",
	"vertex_model":          "vertex.model",
}

func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if path, ok := envMappings[key]; ok {
		return path
	}
	// Returning "" tells koanf to skip the variable.
	return ""
}
