package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/mathcheckin/internal/filehost"
	"github.com/Lllllllleong/mathcheckin/internal/matcher"
	"github.com/Lllllllleong/mathcheckin/internal/models"
	"github.com/Lllllllleong/mathcheckin/internal/roster"
)

// ErrNoToken is returned when an uploaded QR sheet has no readable student name.
var ErrNoToken = errors.New("could not extract student name from PDF")

// QRUploadService handles one staff member uploading one student's QR
// sheet: a preview that identifies the student, then a confirmation that
// stores the file and links it.
type QRUploadService struct {
	roster  roster.Store
	files   filehost.Host
	opener  DocumentOpener
	matcher *matcher.Matcher
}

func NewQRUploadService(store roster.Store, files filehost.Host, opener DocumentOpener, policy matcher.Policy) *QRUploadService {
	return &QRUploadService{roster: store, files: files, opener: opener, matcher: matcher.New(policy)}
}

// Preview reads the token from pdf and finds the student it names.
func (s *QRUploadService) Preview(ctx context.Context, pdf []byte, contentType string) (*models.QRUploadPreview, error) {
	if contentType != "application/pdf" {
		return nil, fmt.Errorf("%w: only PDF files are allowed", ErrInvalidRequest)
	}

	token, err := s.readToken(ctx, pdf)
	if err != nil {
		return nil, err
	}

	table, err := s.roster.ReadStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read student roster: %w", err)
	}
	snapshot, err := matcher.NewRoster(table)
	if err != nil {
		return nil, err
	}
	res := s.matcher.Match(token, snapshot)
	if res.Status != models.MatchMatched {
		return nil, fmt.Errorf("%w: no student matching %q", ErrStudentNotFound, token.Name)
	}
	student := snapshot.Student(res.RowIndex)

	qrTable, err := s.roster.ReadQRCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read QR table: %w", err)
	}
	existing, found := roster.FindQRCode(qrTable, student.StudentID)

	return &models.QRUploadPreview{
		Success:       true,
		StudentInfo:   &student,
		Token:         *token,
		HasExistingQR: found,
		ExistingQRURL: existing,
	}, nil
}

func (s *QRUploadService) readToken(ctx context.Context, pdf []byte) (*models.Token, error) {
	doc, err := s.opener.Open(ctx, pdf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	defer doc.Close()

	// The whole upload is one student's sheet.
	for seg, err := range doc.Segments(ctx) {
		if err != nil {
			return nil, err
		}
		if seg.Token != nil && seg.Token.Name != "" {
			return seg.Token, nil
		}
	}
	return nil, ErrNoToken
}

// ConfirmUpload is a previewed QR file the staff member chose to store.
type ConfirmUpload struct {
	Data        []byte
	MimeType    string
	StudentName string
	// RowIndex is the student's row in the roster, header row included.
	RowIndex    int
	Credentials models.Credentials
}

// Confirm uploads the file with the staff member's credentials and links
// it to the student in the QR table.
func (s *QRUploadService) Confirm(ctx context.Context, up ConfirmUpload) (*models.QRUploadConfirmation, error) {
	if len(up.Data) == 0 || strings.TrimSpace(up.StudentName) == "" || up.RowIndex < 1 {
		return nil, fmt.Errorf("%w: missing required data", ErrInvalidRequest)
	}
	if _, err := filehost.Extension(up.MimeType); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	table, err := s.roster.ReadStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read student roster: %w", err)
	}
	snapshot, err := matcher.NewRoster(table)
	if err != nil {
		return nil, err
	}
	if up.RowIndex >= snapshot.Len() {
		return nil, fmt.Errorf("%w: invalid row index %d", ErrInvalidRequest, up.RowIndex)
	}
	studentID := snapshot.Cell(up.RowIndex, snapshot.Columns().StudentID)
	if studentID == "" {
		return nil, fmt.Errorf("%w: no student id in row %d", ErrStudentNotFound, up.RowIndex)
	}
	logCtx := slog.With("studentId", studentID, "mimeType", up.MimeType)

	url, err := s.files.Upload(ctx, filehost.File{
		Data:      up.Data,
		MimeType:  up.MimeType,
		StudentID: studentID,
		FullName:  up.StudentName,
	}, up.Credentials)
	if err != nil {
		return nil, err
	}
	action, err := s.roster.UpsertQRCode(ctx, studentID, url)
	if err != nil {
		return nil, fmt.Errorf("failed to record QR link: %w", err)
	}
	logCtx.Info("Single QR code stored.", "action", string(action), "url", url)

	kind := "image"
	if up.MimeType == "application/pdf" {
		kind = "PDF"
	}
	verb := "linked"
	if action == roster.ActionUpdated {
		verb = "updated"
	}
	return &models.QRUploadConfirmation{
		Success:   true,
		DriveURL:  url,
		StudentID: studentID,
		Action:    string(action),
		Message:   fmt.Sprintf("QR code %s successfully uploaded and %s for %s (ID: %s)", kind, verb, up.StudentName, studentID),
	}, nil
}
