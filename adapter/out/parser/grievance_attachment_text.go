package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"grievance_server/pkg/logger"

	"github.com/k3a/html2text"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

const (
	pdfMaxPages  = 5
	xlsxMaxRows  = 10 // data rows after the header
	docxBodyPath = "word/document.xml"
)

// Attachment kinds with an extractor.
const (
	kindNone = iota
	kindText
	kindHTML
	kindPDF
	kindDOCX
	kindXLSX
)

// attachmentKind picks an extractor from the file extension, falling back to
// the declared media type.
func attachmentKind(mediaType, filename string) int {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return kindPDF
	case ".docx":
		return kindDOCX
	case ".xlsx":
		return kindXLSX
	case ".txt":
		return kindText
	case ".html", ".htm":
		return kindHTML
	}
	switch {
	case mediaType == "application/pdf":
		return kindPDF
	case mediaType == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return kindDOCX
	case mediaType == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return kindXLSX
	case mediaType == "text/html":
		return kindHTML
	case strings.HasPrefix(mediaType, "text/"):
		return kindText
	}
	return kindNone
}

// attachmentText extracts indexable text from an attachment. Unreadable
// documents are logged and contribute nothing; they are still stored.
func attachmentText(mediaType, filename string, data []byte) (string, bool) {
	var (
		text string
		err  error
	)
	switch attachmentKind(mediaType, filename) {
	case kindText:
		if !utf8.Valid(data) {
			return "", false
		}
		return string(data), true
	case kindHTML:
		if !utf8.Valid(data) {
			return "", false
		}
		return html2text.HTML2Text(string(data)), true
	case kindPDF:
		text, err = pdfText(data)
	case kindDOCX:
		text, err = docxText(data)
	case kindXLSX:
		text, err = xlsxText(data)
	default:
		return "", false
	}
	if err != nil {
		logger.Warn("[EMLParser] skipping unreadable attachment %s: %v", filename, err)
		return "", false
	}
	return text, text != ""
}

// pdfText joins the plain text of the first pages.
func pdfText(data []byte) (text string, err error) {
	// The reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("corrupt pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var parts []string
	for i := 1; i <= r.NumPage() && i <= pdfMaxPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		s, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		parts = append(parts, strings.TrimSpace(s))
	}
	return strings.Join(parts, " "), nil
}

// docxText joins the paragraphs of word/document.xml.
func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBodyPath {
			body = f
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("missing %s", docxBodyPath)
	}
	rc, err := body.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var (
		paragraphs []string
		current    strings.Builder
		inText     bool
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				current.WriteByte(' ')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				paragraphs = append(paragraphs, current.String())
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	return strings.TrimSpace(strings.Join(paragraphs, " ")), nil
}

// xlsxText renders the header and first data rows of the first sheet.
func xlsxText(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", nil
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var lines []string
	for rows.Next() && len(lines) <= xlsxMaxRows {
		cols, err := rows.Columns()
		if err != nil {
			return "", err
		}
		lines = append(lines, strings.Join(cols, " "))
	}
	if err := rows.Error(); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}
