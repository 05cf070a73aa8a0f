package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// NewStorageClient creates the GCS client behind the gcs object store backend.
func NewStorageClient(ctx context.Context) (*storage.Client, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return client, nil
}

// NewSheetsService creates a Sheets client using application default
// credentials, which must hold the spreadsheets scope.
func NewSheetsService(ctx context.Context, opts ...option.ClientOption) (*sheets.Service, error) {
	opts = append([]option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}, opts...)
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sheets service: %w", err)
	}
	return svc, nil
}

// NewDriveReader creates the service-credential Drive client used to fetch
// QR files for display. Uploads use the staff member's own token instead.
func NewDriveReader(ctx context.Context, opts ...option.ClientOption) (*drive.Service, error) {
	opts = append([]option.ClientOption{option.WithScopes(drive.DriveReadonlyScope)}, opts...)
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}
	return svc, nil
}
