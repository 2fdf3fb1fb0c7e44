// Package export renders an analysis report as CSV, XLSX or a PDF of its
// page screenshots.
package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/xuri/excelize/v2"

	"pagelens/api/models"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrNoScreenshots     = errors.New("report has no screenshots to export")
)

// ParseFormat accepts csv, xlsx or pdf; empty means csv.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatXLSX, FormatPDF:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Filename is the attachment name for analysis a.
func (f Format) Filename(a *models.Analysis) string {
	return fmt.Sprintf("analysis-%d.%s", a.ID, f)
}

// Columns is the header row shared by CSV and XLSX.
var Columns = []string{
	"Position", "URL", "Title", "Page Type",
	"Clarity", "Value", "Proof", "Design", "Flow", "Page Score",
	"Feedback", "Recommendations", "Screenshot",
}

func pageRow(p models.PageAnalysis) []any {
	s := p.Scores
	pageScore := (s.Clarity + s.Value + s.Proof + s.Design + s.Flow + 2) / 5
	screenshot := ""
	if p.ScreenshotURL != nil {
		screenshot = *p.ScreenshotURL
	}
	return []any{
		p.Position + 1, p.URL, p.Title, p.PageType,
		s.Clarity, s.Value, s.Proof, s.Design, s.Flow, pageScore,
		p.Feedback, recommendationText(p.Recommendations), screenshot,
	}
}

func recommendationText(r *models.Recommendations) string {
	if r == nil {
		return ""
	}
	var lines []string
	add := func(group string, recs []models.Recommendation) {
		for _, rec := range recs {
			lines = append(lines, fmt.Sprintf("[%s] %s: %s", group, rec.Title, rec.Detail))
		}
	}
	add("Headline", r.Headline)
	add("CTA", r.CTA)
	add("Design", r.Design)
	add("Trust", r.TrustElements)
	add("Funnel", r.FunnelGaps)
	return strings.Join(lines, "\n")
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprint(val)
	}
}

// CSV writes a header row and one row per page, prefixed with a UTF-8 BOM so
// spreadsheet apps detect the encoding.
func CSV(w io.Writer, a *models.Analysis) error {
	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}
	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, p := range a.Pages {
		row := pageRow(p)
		values := make([]string, len(row))
		for i, v := range row {
			values[i] = formatValue(v)
		}
		if err := writer.Write(values); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

const pagesSheet = "Pages"

// XLSX writes a workbook with a Pages sheet and a Summary sheet.
func XLSX(w io.Writer, a *models.Analysis) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(pagesSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"1F4E79"}},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	wrapStyle, _ := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})

	for i, col := range Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(pagesSheet, cell, col)
		f.SetCellStyle(pagesSheet, cell, cell, headerStyle)
	}
	for rowIdx, p := range a.Pages {
		for i, v := range pageRow(p) {
			cell, _ := excelize.CoordinatesToCellName(i+1, rowIdx+2)
			f.SetCellValue(pagesSheet, cell, v)
		}
	}
	f.SetColWidth(pagesSheet, "A", "A", 10)
	f.SetColWidth(pagesSheet, "B", "D", 35)
	f.SetColWidth(pagesSheet, "E", "J", 12)
	f.SetColWidth(pagesSheet, "K", "L", 60)
	f.SetColWidth(pagesSheet, "M", "M", 30)
	if len(a.Pages) > 0 {
		last := strconv.Itoa(len(a.Pages) + 1)
		f.SetCellStyle(pagesSheet, "K2", "L"+last, wrapStyle)
	}
	f.SetPanes(pagesSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})

	addSummarySheet(f, a)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func addSummarySheet(f *excelize.File, a *models.Analysis) {
	const sheet = "Summary"
	f.NewSheet(sheet)
	rows := [][]any{
		{"Name", a.Name},
		{"Overall Score", a.OverallScore},
		{"Clarity", a.Scores.Clarity},
		{"Value", a.Scores.Value},
		{"Proof", a.Scores.Proof},
		{"Design", a.Scores.Design},
		{"Flow", a.Scores.Flow},
		{"Industry", a.Industry},
		{"Summary", a.Summary},
		{"Created", a.CreatedAt.Format("2006-01-02 15:04:05 MST")},
	}
	for i, row := range rows {
		f.SetCellValue(sheet, fmt.Sprintf("A%d", i+1), row[0])
		f.SetCellValue(sheet, fmt.Sprintf("B%d", i+1), row[1])
	}
	f.SetColWidth(sheet, "A", "A", 18)
	f.SetColWidth(sheet, "B", "B", 80)
}

// ImageOpener resolves a public screenshot URL to its bytes.
type ImageOpener interface {
	Open(publicURL string) (io.ReadCloser, error)
}

// PDF writes one page per available screenshot, in page order. Pages whose
// screenshot cannot be read are skipped.
func PDF(w io.Writer, a *models.Analysis, images ImageOpener) error {
	var imgs []io.Reader
	for _, p := range a.Pages {
		if p.ScreenshotURL == nil {
			continue
		}
		rc, err := images.Open(*p.ScreenshotURL)
		if err != nil {
			log.Printf("ERROR: export: skipping screenshot %s of analysis %d: %v", *p.ScreenshotURL, a.ID, err)
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			log.Printf("ERROR: export: reading screenshot %s: %v", *p.ScreenshotURL, err)
			continue
		}
		imgs = append(imgs, bytes.NewReader(data))
	}
	if len(imgs) == 0 {
		return ErrNoScreenshots
	}

	imp := pdfcpu.DefaultImportConfig()
	if err := api.ImportImages(nil, w, imgs, imp, model.NewDefaultConfiguration()); err != nil {
		return fmt.Errorf("pdfcpu import images: %w", err)
	}
	return nil
}

// Write dispatches on format.
func Write(w io.Writer, format Format, a *models.Analysis, images ImageOpener) error {
	switch format {
	case FormatCSV:
		return CSV(w, a)
	case FormatXLSX:
		return XLSX(w, a)
	case FormatPDF:
		return PDF(w, a, images)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
