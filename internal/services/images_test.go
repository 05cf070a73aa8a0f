package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Lllllllleong/mathcheckin/internal/filehost"
	"github.com/Lllllllleong/mathcheckin/internal/models"
	"github.com/Lllllllleong/mathcheckin/internal/segmenter"
)

func TestResolveImage(t *testing.T) {
	files := &memFiles{stored: map[string]*filehost.Download{
		"img1": {MimeType: "image/png", Name: "1_Alice_QR.png", Data: []byte("png-bytes")},
		"pdf1": {MimeType: "application/pdf", Name: "2_Bob_QR.pdf", Data: []byte("%PDF")},
		"doc1": {MimeType: "text/plain", Name: "notes.txt", Data: []byte("hi")},
	}}
	store := &memRoster{qr: [][]string{{"1", filehost.PublicURL("img1")}, {"2", filehost.PublicURL("pdf1")}}}

	t.Run("image by url", func(t *testing.T) {
		r := NewImageResolver(store, files, &pageOpener{err: segmenter.ErrInvalidPDF})
		got, err := r.Resolve(context.Background(), models.QRImageRequest{QRCodeURL: "https://drive.google.com/open?id=img1"})
		if err != nil {
			t.Fatal(err)
		}
		if got.ImageData != "data:image/png;base64,cG5nLWJ5dGVz" || got.IsPDF {
			t.Errorf("got = %+v", got)
		}
	})

	t.Run("pdf with embedded image", func(t *testing.T) {
		src := &pageSource{pages: []string{"UUID: 2\nBob Lee"}, images: map[int]segmenter.Image{1: {Data: []byte{0xff, 0xd8}, MimeType: "image/jpeg"}}}
		r := NewImageResolver(store, files, &pageOpener{src: src})
		got, err := r.Resolve(context.Background(), models.QRImageRequest{StudentID: "2"})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(got.ImageData, "data:image/jpeg;base64,") || got.IsPDF {
			t.Errorf("got = %+v", got)
		}
	})

	t.Run("pdf without image", func(t *testing.T) {
		src := &pageSource{pages: []string{"UUID: 2\nBob Lee"}}
		r := NewImageResolver(store, files, &pageOpener{src: src})
		got, err := r.Resolve(context.Background(), models.QRImageRequest{StudentID: "2"})
		if err != nil {
			t.Fatal(err)
		}
		if !got.IsPDF || got.PDFData != "JVBERg==" || got.MimeType != "application/pdf" {
			t.Errorf("got = %+v", got)
		}
	})

	errCases := []struct {
		name string
		req  models.QRImageRequest
		want error
	}{
		{"empty", models.QRImageRequest{}, ErrInvalidRequest},
		{"unknown student", models.QRImageRequest{StudentID: "404"}, ErrQRCodeNotFound},
		{"bad url", models.QRImageRequest{QRCodeURL: "https://example.com/x"}, ErrInvalidRequest},
		{"missing file", models.QRImageRequest{QRCodeURL: filehost.PublicURL("gone")}, filehost.ErrNotFound},
		{"unsupported", models.QRImageRequest{QRCodeURL: filehost.PublicURL("doc1")}, ErrUnsupportedFile},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			r := NewImageResolver(store, files, &pageOpener{})
			if _, err := r.Resolve(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
