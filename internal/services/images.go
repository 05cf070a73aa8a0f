package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/mathcheckin/internal/filehost"
	"github.com/Lllllllleong/mathcheckin/internal/models"
	"github.com/Lllllllleong/mathcheckin/internal/roster"
	"github.com/Lllllllleong/mathcheckin/internal/segmenter"
)

var (
	// ErrQRCodeNotFound is returned when a student has no QR link.
	ErrQRCodeNotFound = errors.New("no QR code found for this student ID")
	// ErrUnsupportedFile is returned for stored files that are neither
	// images nor PDFs.
	ErrUnsupportedFile = errors.New("unsupported QR file type")
)

// ImageResolver turns a stored QR link into something a browser can show.
type ImageResolver struct {
	roster roster.Store
	files  filehost.Host
	opener DocumentOpener
}

func NewImageResolver(store roster.Store, files filehost.Host, opener DocumentOpener) *ImageResolver {
	return &ImageResolver{roster: store, files: files, opener: opener}
}

// Resolve fetches the QR file named by req. Images come back as data URLs.
// A PDF comes back as its embedded QR image when it has one, else as the
// raw PDF for the client to render.
func (r *ImageResolver) Resolve(ctx context.Context, req models.QRImageRequest) (*models.QRImageResponse, error) {
	url := strings.TrimSpace(req.QRCodeURL)
	if url == "" && req.StudentID != "" {
		table, err := r.roster.ReadQRCodes(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read QR table: %w", err)
		}
		found, ok := roster.FindQRCode(table, req.StudentID)
		if !ok || found == "" {
			return nil, fmt.Errorf("%w: %s", ErrQRCodeNotFound, req.StudentID)
		}
		url = found
	}
	if url == "" {
		return nil, fmt.Errorf("%w: QR code URL or student ID is required", ErrInvalidRequest)
	}

	fileID, err := filehost.ExtractFileID(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	dl, err := r.files.Fetch(ctx, fileID)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasPrefix(dl.MimeType, "image/"):
		return imageResponse(dl.Data, dl.MimeType, dl.Name), nil
	case dl.MimeType == "application/pdf":
		return r.fromPDF(ctx, dl), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, dl.MimeType)
	}
}

func (r *ImageResolver) fromPDF(ctx context.Context, dl *filehost.Download) *models.QRImageResponse {
	pdfResponse := &models.QRImageResponse{
		Success:  true,
		PDFData:  base64.StdEncoding.EncodeToString(dl.Data),
		IsPDF:    true,
		MimeType: "application/pdf",
		FileName: dl.Name,
	}

	doc, err := r.opener.Open(ctx, dl.Data)
	if err != nil {
		slog.Warn("Stored QR PDF could not be opened, returning raw PDF.", "fileName", dl.Name, "error", err)
		return pdfResponse
	}
	defer doc.Close()

	rendering, err := doc.Render(ctx, &segmenter.Segment{FirstPage: 1, LastPage: doc.PageCount()})
	if err != nil || !strings.HasPrefix(rendering.MimeType, "image/") {
		return pdfResponse
	}
	return imageResponse(rendering.Data, rendering.MimeType, dl.Name)
}

func imageResponse(data []byte, mimeType, name string) *models.QRImageResponse {
	return &models.QRImageResponse{
		Success:   true,
		ImageData: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
		MimeType:  mimeType,
		FileName:  name,
	}
}
