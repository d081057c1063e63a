// Package export turns a document into a downloadable file and reads
// uploaded files back into document content.
package export

import (
	"bytes"
	"collaborative-office-suite/internal/store"
	"context"
	"errors"
	"fmt"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatText Format = "txt"
	FormatDocx Format = "docx"
	FormatPDF  Format = "pdf"
)

var (
	ErrUnknownFormat = errors.New("unknown export format")
	ErrNoRenderer    = errors.New("pdf export is not configured")
	ErrUnknownImport = errors.New("unsupported file type")
)

// PDFRenderer renders HTML to PDF. render.Client implements it.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, title, markup string) ([]byte, error)
}

type File struct {
	Name        string
	ContentType string
	Body        []byte
}

type Exporter struct {
	renderer PDFRenderer
}

// NewExporter builds an exporter. A nil renderer disables pdf.
func NewExporter(renderer PDFRenderer) *Exporter {
	return &Exporter{renderer: renderer}
}

// Export names the file after the document title.
func (e *Exporter) Export(ctx context.Context, doc *store.Document, format Format) (*File, error) {
	name := doc.Title
	if name == "" {
		name = "Untitled Document"
	}

	switch format {
	case FormatHTML, "":
		return &File{
			Name:        name + ".html",
			ContentType: "text/html; charset=utf-8",
			Body:        []byte(doc.Content),
		}, nil
	case FormatText:
		return &File{
			Name:        name + ".txt",
			ContentType: "text/plain; charset=utf-8",
			Body:        []byte(PlainText(doc.Content)),
		}, nil
	case FormatDocx:
		var buf bytes.Buffer
		if err := WriteDocx(&buf, PlainText(doc.Content)); err != nil {
			return nil, err
		}
		return &File{
			Name:        name + ".docx",
			ContentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			Body:        buf.Bytes(),
		}, nil
	case FormatPDF:
		if e.renderer == nil {
			return nil, ErrNoRenderer
		}
		pdf, err := e.renderer.RenderPDF(ctx, name, doc.Content)
		if err != nil {
			return nil, fmt.Errorf("render pdf: %w", err)
		}
		return &File{
			Name:        name + ".pdf",
			ContentType: "application/pdf",
			Body:        pdf,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Import returns the document content for an uploaded file. Text and HTML
// are taken as they are. Word documents keep only their text.
func Import(ext string, data []byte) (string, error) {
	switch ext {
	case ".txt", ".html", ".htm":
		return string(data), nil
	case ".docx":
		return ReadDocx(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownImport, ext)
	}
}
