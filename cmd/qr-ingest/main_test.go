package main

import (
	"testing"

	"github.com/Lllllllleong/mathcheckin/internal/config"
)

func TestAccepts(t *testing.T) {
	cfg := config.Default()
	in := &ingester{cfg: cfg}
	bucket := cfg.ObjectStore.Bucket

	tests := []struct {
		name string
		ev   GCSEvent
		want bool
	}{
		{name: "ingest pdf", ev: GCSEvent{Bucket: bucket, Name: "ingest/week3.pdf", ContentType: "application/pdf"}, want: true},
		{name: "no content type", ev: GCSEvent{Bucket: bucket, Name: "ingest/week3.pdf"}, want: true},
		{name: "browser upload", ev: GCSEvent{Bucket: bucket, Name: "mass_qr_1700000000000_week3.pdf"}},
		{name: "other bucket", ev: GCSEvent{Bucket: "elsewhere", Name: "ingest/week3.pdf"}},
		{name: "not a pdf", ev: GCSEvent{Bucket: bucket, Name: "ingest/notes.txt", ContentType: "text/plain"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := in.accepts(tt.ev); got != tt.want {
				t.Errorf("accepts(%+v) = %v, want %v", tt.ev, got, tt.want)
			}
		})
	}
}
