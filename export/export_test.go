package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

var testRows = []Row{
	{SubmissionID: 12, Date: time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC), Answers: []Cell{
		{FieldID: 1, Label: "Nom", Value: "Durand"},
		{FieldID: 2, Label: "Email", Value: "d@example.fr"},
	}},
	{SubmissionID: 11, Date: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), Answers: []Cell{
		{FieldID: 1, Label: "Nom", Value: "Martin"},
		{FieldID: 3, Label: "Ville", Value: "Lyon"},
	}},
}

func TestRender_EmptyResult(t *testing.T) {
	_, err := Render(nil, FormatJSON, "", nil)
	if err != ErrNoRows {
		t.Errorf("err = %v, want ErrNoRows", err)
	}
}

func TestRender_UnknownFormat(t *testing.T) {
	_, err := Render(testRows, "pdf", "", nil)
	if err != ErrUnknownFormat {
		t.Errorf("err = %v, want ErrUnknownFormat", err)
	}
	if _, ok := Ext("pdf"); ok {
		t.Error("Ext accepted an unknown format")
	}
}

func TestRenderDelimited(t *testing.T) {
	data, err := Render(testRows, FormatCSV, "pipe", nil)
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want header + 2 rows", len(lines))
	}
	if lines[0] != "id|date|answers" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Nom=Durand; Email=d@example.fr") {
		t.Errorf("answers not embedded as a blob: %q", lines[1])
	}
}

func TestRenderDelimited_LiteralOverride(t *testing.T) {
	data, err := Render(testRows, FormatCSV, "##", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "id##date##answers") {
		t.Errorf("literal delimiter not honored: %q", string(data)[:30])
	}
}

func TestRenderJSON(t *testing.T) {
	data, err := Render(testRows, FormatJSON, "", nil)
	if err != nil {
		t.Fatal(err)
	}

	var decoded []Row
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 2 || decoded[0].SubmissionID != 12 {
		t.Errorf("decoded = %+v", decoded)
	}
	if !bytes.Contains(data, []byte("\n  ")) {
		t.Error("output not pretty-printed")
	}
}

func TestRenderExcel_ColumnPerField(t *testing.T) {
	data, err := Render(testRows, FormatXLSX, "", nil)
	if err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}

	// distinct fields across the result set, first-seen order
	header := rows[0]
	if len(header) != 5 || header[2] != "Nom" || header[3] != "Email" || header[4] != "Ville" {
		t.Errorf("header = %v", header)
	}

	// second data row has no Email answer, the cell must be empty not
	// omitted; GetRows trims trailing empties so guard on length first
	second := rows[2]
	if len(second) > 3 && second[3] != "" {
		t.Errorf("missing answer rendered as %q, want empty", second[3])
	}
	if second[2] != "Martin" {
		t.Errorf("Nom = %q, want Martin", second[2])
	}
}

func TestRenderExcel_RequestedFieldOrder(t *testing.T) {
	data, err := Render(testRows, FormatXLSX, "", []int64{3, 1})
	if err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatal(err)
	}
	header := rows[0]
	if len(header) != 4 || header[2] != "Ville" || header[3] != "Nom" {
		t.Errorf("header = %v, want requested order Ville, Nom", header)
	}
}

func TestRenderXML_Escaped(t *testing.T) {
	rows := []Row{
		{SubmissionID: 1, Date: time.Now(), Answers: []Cell{
			{FieldID: 1, Label: "Société & co", Value: "<script>alert(1)</script>"},
		}},
	}

	data, err := Render(rows, FormatXML, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "<script>") {
		t.Error("value not escaped")
	}
	if !strings.Contains(out, "&lt;script&gt;") {
		t.Errorf("expected escaped value in %q", out)
	}
	if !strings.Contains(out, "Société &amp; co") {
		t.Errorf("expected escaped label in %q", out)
	}
	if !strings.Contains(out, "<submission ") || !strings.Contains(out, "<answer ") {
		t.Errorf("unexpected document shape: %q", out)
	}
}

func TestFilename(t *testing.T) {
	now := time.Date(2024, 5, 2, 10, 30, 0, 0, time.UTC)
	if got := Filename(9, "xlsx", now); got != "export_9_20240502103000.xlsx" {
		t.Errorf("Filename = %q", got)
	}
}

func TestResolveDelimiter(t *testing.T) {
	tests := map[string]string{
		"tab":       "\t",
		"space":     " ",
		"comma":     ",",
		"semicolon": ";",
		"pipe":      "|",
		"":          ";",
		"::":        "::",
	}
	for in, want := range tests {
		if got := resolveDelimiter(in); got != want {
			t.Errorf("resolveDelimiter(%q) = %q, want %q", in, got, want)
		}
	}
}
