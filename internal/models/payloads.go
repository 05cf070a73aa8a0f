package models

// These structs define the JSON bodies of the HTTP API. Field names follow
// the browser client, which predates this service.

// StartBatchRequest starts a mass QR upload for a PDF already in the object store.
type StartBatchRequest struct {
	FileID       string `json:"fileId" validate:"required,max=512"`
	AccessToken  string `json:"accessToken" validate:"required"`
	RefreshToken string `json:"refreshToken"`
	UserEmail    string `json:"userEmail" validate:"required,email"`
}

// StartJobResponse is returned with 202 Accepted by every job start endpoint.
type StartJobResponse struct {
	JobID string `json:"jobId"`
}

// CheckInRequest starts a remote check-in for one student.
type CheckInRequest struct {
	APIKey    string `json:"apiKey,omitempty"`
	StudentID string `json:"studentId" validate:"required,max=128"`
	QRCodeURL string `json:"qrCodeUrl,omitempty" validate:"omitempty,url"`
	Region    string `json:"region,omitempty" validate:"max=64"`
}

// PresignRequest asks for a presigned PUT URL for a source PDF.
type PresignRequest struct {
	FileID      string `json:"fileId" validate:"required,max=512"`
	ContentType string `json:"contentType" validate:"required"`
}

// PresignResponse carries the URL the browser PUTs the PDF to.
type PresignResponse struct {
	URL    string `json:"url"`
	FileID string `json:"fileId"`
}

// ObjectUploadResponse reports a server-side upload into the object store.
type ObjectUploadResponse struct {
	Success bool   `json:"success"`
	FileID  string `json:"fileId"`
}

// ClearBucketResponse reports how many source PDFs were removed.
type ClearBucketResponse struct {
	Success bool `json:"success"`
	Deleted int  `json:"deleted"`
}

// QRImageRequest resolves a QR code to displayable image data. One of the
// two fields is required.
type QRImageRequest struct {
	QRCodeURL string `json:"qrCodeUrl,omitempty"`
	StudentID string `json:"studentId,omitempty"`
}

// QRImageResponse carries a data URL, or the raw PDF when no image could be
// derived from it.
type QRImageResponse struct {
	Success   bool   `json:"success"`
	ImageData string `json:"imageData,omitempty"`
	PDFData   string `json:"pdfData,omitempty"`
	IsPDF     bool   `json:"isPdf"`
	MimeType  string `json:"mimeType"`
	FileName  string `json:"fileName,omitempty"`
}

// QRUploadPreview is the answer to a single-PDF upload before confirmation.
type QRUploadPreview struct {
	Success       bool         `json:"success"`
	StudentInfo   *StudentInfo `json:"studentInfo"`
	Token         Token        `json:"pdfData"`
	HasExistingQR bool         `json:"hasExistingQR"`
	ExistingQRURL string       `json:"existingQRUrl,omitempty"`
}

// QRUploadConfirmation reports the link stored for a confirmed single upload.
type QRUploadConfirmation struct {
	Success   bool   `json:"success"`
	DriveURL  string `json:"driveUrl"`
	StudentID string `json:"studentId"`
	Action    string `json:"action"`
	Message   string `json:"message"`
}

// TableResponse wraps a raw roster or QR table.
type TableResponse struct {
	Rows  [][]string `json:"rows"`
	Count int        `json:"count"`
}

// CentersResponse lists the distinct tuition centers.
type CentersResponse struct {
	Centers []string `json:"centers"`
}

// StudentsResponse lists the students of one center.
type StudentsResponse struct {
	Students []StudentInfo `json:"students"`
	Count    int           `json:"count"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}
