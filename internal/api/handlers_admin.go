package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Lllllllleong/mathcheckin/internal/models"
	"github.com/Lllllllleong/mathcheckin/internal/roster"
	"github.com/Lllllllleong/mathcheckin/internal/services"
)

// Google OAuth tokens of the signed-in staff member, forwarded by the
// admin front-end for uploads made with their Drive identity.
const (
	headerGoogleAccessToken  = "X-Google-Access-Token"
	headerGoogleRefreshToken = "X-Google-Refresh-Token"
)

// UploadQR previews a single QR PDF: the student it names and any QR link
// already on file.
func (h *Handler) UploadQR(w http.ResponseWriter, r *http.Request) {
	file, header, err := h.formFile(w, r, "file")
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer file.Close()
	data, err := readPart(file)
	if err != nil {
		respondError(w, r, err)
		return
	}

	preview, err := h.deps.QRUpload.Preview(r.Context(), data, partContentType(header))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, preview)
}

// ConfirmQRUpload stores a previewed QR file and links it to the student.
func (h *Handler) ConfirmQRUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := h.formFile(w, r, "file")
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer file.Close()
	data, err := readPart(file)
	if err != nil {
		respondError(w, r, err)
		return
	}

	rowIndex, err := strconv.Atoi(strings.TrimSpace(r.FormValue("rowIndex")))
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: invalid rowIndex", services.ErrInvalidRequest))
		return
	}

	confirmation, err := h.deps.QRUpload.Confirm(r.Context(), services.ConfirmUpload{
		Data:        data,
		MimeType:    partContentType(header),
		StudentName: r.FormValue("studentName"),
		RowIndex:    rowIndex,
		Credentials: models.Credentials{
			AccessToken:  r.Header.Get(headerGoogleAccessToken),
			RefreshToken: r.Header.Get(headerGoogleRefreshToken),
		},
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, confirmation)
}

// Students returns the raw student table.
func (h *Handler) Students(w http.ResponseWriter, r *http.Request) {
	rows, err := h.deps.Roster.ReadStudents(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.TableResponse{Rows: rows, Count: len(rows)})
}

// QRCodes returns the raw QR table.
func (h *Handler) QRCodes(w http.ResponseWriter, r *http.Request) {
	rows, err := h.deps.Roster.ReadQRCodes(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.TableResponse{Rows: rows, Count: len(rows)})
}

// Centers lists the tuition centers found in the student table.
func (h *Handler) Centers(w http.ResponseWriter, r *http.Request) {
	rows, err := h.deps.Roster.ReadStudents(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	centers, err := roster.Centers(rows)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.CentersResponse{Centers: centers})
}

// StudentsByCenter lists the students of the center query parameter.
func (h *Handler) StudentsByCenter(w http.ResponseWriter, r *http.Request) {
	center := strings.TrimSpace(r.URL.Query().Get("center"))
	if center == "" {
		respondError(w, r, fmt.Errorf("%w: center is required", services.ErrInvalidRequest))
		return
	}
	rows, err := h.deps.Roster.ReadStudents(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	students, err := roster.StudentsByCenter(rows, center)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.StudentsResponse{Students: students, Count: len(students)})
}

// QRImage resolves a QR link or student id to displayable image data.
func (h *Handler) QRImage(w http.ResponseWriter, r *http.Request) {
	var req models.QRImageRequest
	if err := readJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	resp, err := h.deps.Images.Resolve(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
