package parser

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

// buildPDF writes a minimal PDF with one page of text per entry.
func buildPDF(t *testing.T, pages ...string) []byte {
	t.Helper()
	var (
		buf     bytes.Buffer
		offsets []int
	)
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	// 1 catalog, 2 page tree, 3 font, then a page and content stream per entry.
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	for i, text := range pages {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func buildDOCX(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	body.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		// Split each paragraph across two runs the way Word does.
		half := len(p) / 2
		fmt.Fprintf(&body, `<w:p><w:r><w:t xml:space="preserve">%s</w:t></w:r><w:r><w:t>%s</w:t></w:r></w:p>`, p[:half], p[half:])
	}
	body.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(docxBodyPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(body.String())); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func buildXLSX(t *testing.T, rows int) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetRow("Sheet1", "A1", &[]any{"Roll", "Status"}); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= rows; i++ {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &[]any{fmt.Sprintf("R%03d", i), "withheld"}); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestAttachmentText(t *testing.T) {
	sixPages := buildPDF(t, "PageOne", "PageTwo", "PageThree", "PageFour", "PageFive", "PageSix")

	tests := []struct {
		name      string
		mediaType string
		filename  string
		data      []byte
		want      []string
		wantNot   []string
		ok        bool
	}{
		{"plain text", "text/plain", "note.txt", []byte("Roll number 42"), []string{"Roll number 42"}, nil, true},
		{"txt sent as octet-stream", "application/octet-stream", "note.TXT", []byte("hostel fee"), []string{"hostel fee"}, nil, true},
		{"html", "text/html", "page.html", []byte("<p>exam <b>cancelled</b></p>"), []string{"exam", "cancelled"}, []string{"<p>"}, true},
		{"invalid utf8 text", "text/plain", "bin.txt", []byte{0xff, 0xfe, 0x00}, nil, nil, false},
		{"pdf first five pages", "application/pdf", "order.pdf", sixPages,
			[]string{"PageOne", "PageFive"}, []string{"PageSix"}, true},
		{"pdf by extension", "application/octet-stream", "scan.PDF", buildPDF(t, "Suspension order"), []string{"Suspension order"}, nil, true},
		{"corrupt pdf", "application/pdf", "scan.pdf", []byte("%PDF-1.4 fake"), nil, nil, false},
		{"docx paragraphs", "application/octet-stream", "letter.docx",
			buildDOCX(t, "FIR lodged against student", "Request for bail"),
			[]string{"FIR lodged against student Request for bail"}, nil, true},
		{"docx without body", "application/octet-stream", "empty.docx", func() []byte {
			var buf bytes.Buffer
			zw := zip.NewWriter(&buf)
			_ = zw.Close()
			return buf.Bytes()
		}(), nil, nil, false},
		{"xlsx header and ten rows", "application/octet-stream", "marks.xlsx", buildXLSX(t, 15),
			[]string{"Roll Status", "R001 withheld", "R010 withheld"}, []string{"R011"}, true},
		{"unsupported", "image/png", "photo.png", []byte{0x89, 'P', 'N', 'G'}, nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := attachmentText(tt.mediaType, tt.filename, tt.data)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v (text %q)", ok, tt.ok, got)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("text %q missing %q", got, w)
				}
			}
			for _, w := range tt.wantNot {
				if strings.Contains(got, w) {
					t.Errorf("text %q should not contain %q", got, w)
				}
			}
		})
	}
}

func TestParseIndexesDocumentAttachments(t *testing.T) {
	docx := base64.StdEncoding.EncodeToString(buildDOCX(t, "Clerk suspended without notice"))
	raw := `Message-ID: <d1@college.edu>
From: office@college.edu
Subject: Representation
Content-Type: multipart/mixed; boundary="B"

--B
Content-Type: text/plain

Please see the attached letter.
--B
Content-Type: application/vnd.openxmlformats-officedocument.wordprocessingml.document
Content-Disposition: attachment; filename="letter.docx"
Content-Transfer-Encoding: base64

` + docx + `
--B--
`
	parsed, err := NewEMLParser(0).Parse("006.eml", crlf(raw))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(parsed.Email.Content, "Clerk suspended without notice") {
		t.Errorf("docx text not indexed: %q", parsed.Email.Content)
	}
	if len(parsed.Attachments) != 1 || parsed.Attachments[0].Meta.Name != "letter.docx" {
		t.Errorf("attachments = %+v", parsed.Email.Attachments)
	}
}
