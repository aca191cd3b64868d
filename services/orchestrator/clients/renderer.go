// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clients

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tanishka786/GDHS/services/pipeline/stages"
)

// PDFRenderer renders triage reports as single-page PDF documents. It
// writes the PDF structure directly; reports are plain text lines and
// need no layout engine.
type PDFRenderer struct{}

// NewPDFRenderer creates the local report renderer.
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

func (r *PDFRenderer) Render(ctx context.Context, input stages.ReportInput) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return buildPDF(reportLines(input)), nil
}

// reportLines flattens the assessment into printable lines.
func reportLines(input stages.ReportInput) []string {
	lines := []string{
		"Fracture Triage Report",
		"Request: " + input.RequestID,
		"Generated: " + time.Now().UTC().Format(time.RFC3339),
		"",
	}

	if input.Triage != nil {
		lines = append(lines,
			fmt.Sprintf("Triage level: %s (score %.2f, confidence %.2f)", input.Triage.Level, input.Triage.Score, input.Triage.Confidence),
		)
		for _, r := range input.Triage.Rationale {
			lines = append(lines, "  - "+r)
		}
		if len(input.Triage.Recommendations) > 0 {
			lines = append(lines, "", "Recommendations:")
			for _, rec := range input.Triage.Recommendations {
				lines = append(lines, "  - "+rec)
			}
		}
		lines = append(lines, "")
	}

	if len(input.Detections) > 0 {
		lines = append(lines, "Findings:")
		for _, d := range input.Detections {
			lines = append(lines, fmt.Sprintf("  - %s (score %.2f)", d.Label, d.Score))
		}
		lines = append(lines, "")
	} else {
		lines = append(lines, "Findings: none", "")
	}

	if input.Symptoms != "" {
		lines = append(lines, "Reported symptoms: "+input.Symptoms, "")
	}
	if input.Diagnosis != nil && input.Diagnosis.Summary != "" {
		lines = append(lines, "Assessment: "+input.Diagnosis.Summary, "")
	}
	if input.Disclaimer != "" {
		lines = append(lines, input.Disclaimer)
	}
	return lines
}

// buildPDF emits a minimal single-page PDF with the given text lines in
// a monospace font. Object offsets are tracked for the xref table.
func buildPDF(lines []string) []byte {
	var content strings.Builder
	content.WriteString("BT /F1 10 Tf 40 780 Td 14 TL\n")
	for _, line := range lines {
		content.WriteString(fmt.Sprintf("(%s) Tj T*\n", escapePDFText(line)))
	}
	content.WriteString("ET\n")
	stream := content.String()

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(stream), stream),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Courier >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefStart)
	return buf.Bytes()
}

// escapePDFText escapes the characters PDF string literals reserve.
func escapePDFText(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return replacer.Replace(s)
}

var _ stages.ReportRenderer = (*PDFRenderer)(nil)
