package segmenter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// pdfcpuSource keeps the optimized source and its single-page split in a
// temp directory. Page-level reads then only touch one small file each.
type pdfcpuSource struct {
	dir   string
	base  string
	pages int

	mu    sync.Mutex
	texts map[int]string
}

func newConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func openPDFCPU(ctx context.Context, pdf []byte) (*pdfcpuSource, error) {
	if len(pdf) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidPDF)
	}
	dir, err := os.MkdirTemp("", "qr-segmenter-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	src := &pdfcpuSource{dir: dir, texts: make(map[int]string)}
	if err := src.prepare(ctx, pdf); err != nil {
		_ = src.Close()
		return nil, err
	}
	return src, nil
}

func (s *pdfcpuSource) prepare(ctx context.Context, pdf []byte) error {
	sourcePath := filepath.Join(s.dir, "source.pdf")
	if err := os.WriteFile(sourcePath, pdf, 0o600); err != nil {
		return fmt.Errorf("failed to write source pdf: %w", err)
	}

	optimized := filepath.Join(s.dir, "optimized.pdf")
	if err := api.OptimizeFile(sourcePath, optimized, newConfiguration()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	pageCount, err := api.PageCountFile(optimized)
	if err != nil {
		return fmt.Errorf("%w: page count: %v", ErrInvalidPDF, err)
	}
	if pageCount == 0 {
		return ErrNoPages
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := api.SplitFile(optimized, s.dir, 1, newConfiguration()); err != nil {
		return fmt.Errorf("failed to split pdf: %w", err)
	}

	s.base = strings.TrimSuffix(optimized, filepath.Ext(optimized))
	s.pages = pageCount
	slog.Debug("PDF optimized and split locally.", "pageCount", pageCount, "dir", s.dir)
	return nil
}

func (s *pdfcpuSource) PageCount() int { return s.pages }

func (s *pdfcpuSource) pageFile(page int) string {
	return fmt.Sprintf("%s_%d.pdf", s.base, page)
}

func (s *pdfcpuSource) PageText(ctx context.Context, page int) (string, error) {
	if page < 1 || page > s.pages {
		return "", fmt.Errorf("page %d out of range 1-%d", page, s.pages)
	}
	s.mu.Lock()
	text, ok := s.texts[page]
	s.mu.Unlock()
	if ok {
		return text, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	outDir, err := os.MkdirTemp(s.dir, "content-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(outDir)
	if err := api.ExtractContentFile(s.pageFile(page), outDir, nil, newConfiguration()); err != nil {
		return "", fmt.Errorf("extract content: %w", err)
	}
	files, err := sortedFiles(outDir)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, f := range files {
		raw, err := os.ReadFile(f)
		if err != nil {
			return "", err
		}
		if t := contentText(raw); t != "" {
			parts = append(parts, t)
		}
	}
	text = strings.Join(parts, "\n")

	s.mu.Lock()
	s.texts[page] = text
	s.mu.Unlock()
	return text, nil
}

func (s *pdfcpuSource) PagesPDF(ctx context.Context, first, last int) ([]byte, error) {
	if first < 1 || last > s.pages || first > last {
		return nil, fmt.Errorf("page range %d-%d out of range 1-%d", first, last, s.pages)
	}
	if first == last {
		return os.ReadFile(s.pageFile(first))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inFiles := make([]string, 0, last-first+1)
	for p := first; p <= last; p++ {
		inFiles = append(inFiles, s.pageFile(p))
	}
	out, err := os.CreateTemp(s.dir, "segment-*.pdf")
	if err != nil {
		return nil, err
	}
	outPath := out.Name()
	_ = out.Close()
	defer os.Remove(outPath)

	if err := api.MergeCreateFile(inFiles, outPath, false, newConfiguration()); err != nil {
		return nil, fmt.Errorf("merge pages %d-%d: %w", first, last, err)
	}
	return os.ReadFile(outPath)
}

func (s *pdfcpuSource) PageImages(ctx context.Context, first, last int) ([]Image, error) {
	var images []Image
	for p := first; p <= last; p++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outDir, err := os.MkdirTemp(s.dir, "images-*")
		if err != nil {
			return nil, err
		}
		err = api.ExtractImagesFile(s.pageFile(p), outDir, nil, newConfiguration())
		if err == nil {
			images, err = appendImageFiles(images, outDir)
		}
		os.RemoveAll(outDir)
		if err != nil {
			return images, fmt.Errorf("page %d images: %w", p, err)
		}
	}
	return images, nil
}

func appendImageFiles(images []Image, dir string) ([]Image, error) {
	files, err := sortedFiles(dir)
	if err != nil {
		return images, err
	}
	for _, f := range files {
		mime := ""
		switch strings.ToLower(filepath.Ext(f)) {
		case ".png":
			mime = "image/png"
		case ".jpg", ".jpeg":
			mime = "image/jpeg"
		default:
			continue
		}
		data, err := os.ReadFile(f)
		if err != nil {
			return images, err
		}
		images = append(images, Image{Data: data, MimeType: mime})
	}
	return images, nil
}

func sortedFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func (s *pdfcpuSource) Close() error {
	return os.RemoveAll(s.dir)
}
