package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"testing"

	"github.com/xuri/excelize/v2"

	"pagelens/api/models"
)

func sampleAnalysis() *models.Analysis {
	shot := "/screenshots/5-0.jpg"
	return &models.Analysis{
		ID:           5,
		Name:         "Launch page",
		OverallScore: 74,
		Scores:       models.Scores{Clarity: 80, Value: 70, Proof: 60, Design: 85, Flow: 75},
		Pages: []models.PageAnalysis{
			{
				Position: 0, URL: "https://example.com", Title: "Home", PageType: "landing",
				Scores:        models.Scores{Clarity: 80, Value: 70, Proof: 60, Design: 85, Flow: 75},
				Feedback:      "Strong headline, weak proof.",
				ScreenshotURL: &shot,
				Recommendations: &models.Recommendations{
					Headline: []models.Recommendation{{Title: "Shorten", Detail: "Keep it under ten words"}},
				},
			},
			{Position: 1, URL: "https://example.com/pricing", Title: "Pricing, plans", PageType: "pricing"},
		},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatCSV, "CSV": FormatCSV, "xlsx": FormatXLSX, " pdf ": FormatPDF} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("docx"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestCSV_HeaderAndOneRowPerPage(t *testing.T) {
	var buf bytes.Buffer
	if err := CSV(&buf, sampleAnalysis()); err != nil {
		t.Fatalf("CSV: %v", err)
	}
	data := buf.Bytes()
	if !bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		t.Fatal("missing UTF-8 BOM")
	}
	records, err := csv.NewReader(bytes.NewReader(data[3:])).ReadAll()
	if err != nil {
		t.Fatalf("reading csv back: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d records", len(records))
	}
	if records[0][1] != "URL" || records[1][1] != "https://example.com" {
		t.Errorf("unexpected rows: %v", records[:2])
	}
	if records[1][9] != "74" {
		t.Errorf("page score = %s, want 74", records[1][9])
	}
	if records[2][2] != "Pricing, plans" || records[2][12] != "" {
		t.Errorf("unexpected second row: %v", records[2])
	}
	if records[1][11] != "[Headline] Shorten: Keep it under ten words" {
		t.Errorf("unexpected recommendations cell %q", records[1][11])
	}
}

func TestXLSX_Readable(t *testing.T) {
	var buf bytes.Buffer
	if err := XLSX(&buf, sampleAnalysis()); err != nil {
		t.Fatalf("XLSX: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(pagesSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[2][1] != "https://example.com/pricing" {
		t.Errorf("unexpected url cell %q", rows[2][1])
	}
	score, _ := f.GetCellValue("Summary", "B2")
	if score != "74" {
		t.Errorf("summary overall score = %q", score)
	}
}

type noImages struct{}

func (noImages) Open(string) (io.ReadCloser, error) { return nil, errors.New("missing") }

func TestPDF_NoScreenshots(t *testing.T) {
	var buf bytes.Buffer
	if err := PDF(&buf, sampleAnalysis(), noImages{}); !errors.Is(err, ErrNoScreenshots) {
		t.Fatalf("expected ErrNoScreenshots, got %v", err)
	}
}
