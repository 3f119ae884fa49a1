package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/eventops/knowledge-service/internal/knowledge/kberr"
	"github.com/eventops/knowledge-service/internal/models"
	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"github.com/unidoc/unioffice/v2/document"
)

// allowedTypes is the explicit allow-list checked before any parsing is
// attempted. Unknown types fail fast instead of reaching a parser.
var allowedTypes = map[models.SourceType]bool{
	models.SourcePDF:  true,
	models.SourceDOCX: true,
	models.SourceTXT:  true,
	models.SourceMD:   true,
	models.SourceCSV:  true,
	models.SourceText: true,
}

// mimeTypes maps sniffed MIME types to source types, used when the file
// extension alone is not conclusive.
var mimeTypes = map[string]models.SourceType{
	"application/pdf": models.SourcePDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": models.SourceDOCX,
	"text/plain":    models.SourceTXT,
	"text/markdown": models.SourceMD,
	"text/csv":      models.SourceCSV,
}

// ResolveSourceType determines the document type from the declared type, the
// file extension and the sniffed content type, in that order. It returns
// kberr.ErrUnsupportedType when none of them yields an allow-listed type.
func ResolveSourceType(declared models.SourceType, filename string, data []byte) (models.SourceType, error) {
	if declared != "" {
		if !allowedTypes[declared] {
			return "", fmt.Errorf("%w: %q", kberr.ErrUnsupportedType, declared)
		}
		return declared, nil
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return models.SourcePDF, nil
	case ".docx":
		return models.SourceDOCX, nil
	case ".txt":
		return models.SourceTXT, nil
	case ".md", ".markdown":
		return models.SourceMD, nil
	case ".csv":
		return models.SourceCSV, nil
	}

	mtype := mimetype.Detect(data)
	for pattern, st := range mimeTypes {
		if mtype.Is(pattern) {
			return st, nil
		}
	}

	return "", fmt.Errorf("%w: %q (%s)", kberr.ErrUnsupportedType, filename, mtype.String())
}

// Extractor converts raw bytes of a supported file type into plain text.
// It is a pure function of its input; an empty result is legitimate for
// image-only documents and surfaces downstream as zero chunks.
type Extractor struct{}

// New creates a new Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract returns the plain text of the given bytes. The source type must
// already be allow-listed; unparseable bytes yield kberr.ErrCorruptDocument.
func (e *Extractor) Extract(data []byte, sourceType models.SourceType) (string, error) {
	if !allowedTypes[sourceType] {
		return "", fmt.Errorf("%w: %q", kberr.ErrUnsupportedType, sourceType)
	}

	switch sourceType {
	case models.SourcePDF:
		return e.extractPDF(data)
	case models.SourceDOCX:
		return e.extractDOCX(data)
	case models.SourceCSV:
		return e.extractCSV(data)
	default:
		// txt, md and raw pasted text are already plain text.
		return string(data), nil
	}
}

func (e *Extractor) extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", kberr.ErrCorruptDocument, err)
	}

	content, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: %v", kberr.ErrCorruptDocument, err)
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, content); err != nil {
		return "", fmt.Errorf("%w: %v", kberr.ErrCorruptDocument, err)
	}
	return sb.String(), nil
}

func (e *Extractor) extractDOCX(data []byte) (string, error) {
	doc, err := document.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", kberr.ErrCorruptDocument, err)
	}
	defer doc.Close()

	var sb strings.Builder
	for _, p := range doc.Paragraphs() {
		for _, r := range p.Runs() {
			sb.WriteString(r.Text())
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func (e *Extractor) extractCSV(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1 // ragged rows are common in exported sheets

	var sb strings.Builder
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", kberr.ErrCorruptDocument, err)
		}
		sb.WriteString(strings.Join(record, ", "))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
