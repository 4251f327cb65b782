package export

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

var (
	ErrUnknownFormat = errors.New("export: unknown format")
	ErrNoRows        = errors.New("export: no rows match the given filters")
)

// Row is the flattened shape of one submission in an export: its id,
// creation time and the answers kept after the optional field subset.
type Row struct {
	SubmissionID int64     `json:"submissionId"`
	Date         time.Time `json:"dateSubmission"`
	Answers      []Cell    `json:"answers"`
}

// Cell carries the human-readable field label (already fallen back to
// the internal field name where the label is empty) and the raw text
// value.
type Cell struct {
	FieldID int64  `json:"fieldId"`
	Label   string `json:"label"`
	Value   string `json:"value"`
}

// Supported formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
	FormatXML  = "xml"
)

// Ext returns the file extension for a format, or false for an
// unknown one.
func Ext(format string) (string, bool) {
	switch format {
	case FormatCSV, FormatJSON, FormatXLSX, FormatXML:
		return format, true
	}
	return "", false
}

// Filename builds the timestamped export file name. The format must
// be one Render accepts.
func Filename(campaignID int64, format string, now time.Time) string {
	ext, _ := Ext(format)
	return fmt.Sprintf("export_%d_%s.%s", campaignID, now.Format("20060102150405"), ext)
}

// Render serializes rows to the requested format. delimiter only
// applies to the delimited format; fieldOrder, when non-empty, fixes
// the spreadsheet column order. An empty row set is an input error,
// no bytes are ever produced for it.
func Render(rows []Row, format, delimiter string, fieldOrder []int64) ([]byte, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	switch format {
	case FormatCSV:
		return renderDelimited(rows, resolveDelimiter(delimiter)), nil
	case FormatJSON:
		return renderJSON(rows)
	case FormatXLSX:
		return renderExcel(rows, fieldOrder)
	case FormatXML:
		return renderXML(rows)
	default:
		return nil, ErrUnknownFormat
	}
}

var namedDelimiters = map[string]string{
	"tab":       "\t",
	"space":     " ",
	"comma":     ",",
	"semicolon": ";",
	"pipe":      "|",
}

// resolveDelimiter maps a delimiter name to its character; anything
// unrecognized is taken as a literal override.
func resolveDelimiter(name string) string {
	if d, ok := namedDelimiters[name]; ok {
		return d
	}
	if name == "" {
		return ";"
	}
	return name
}

// renderDelimited keeps the answers of each submission as one
// embedded blob column rather than spreading them out.
func renderDelimited(rows []Row, delimiter string) []byte {
	var sb strings.Builder
	sb.WriteString(strings.Join([]string{"id", "date", "answers"}, delimiter))
	sb.WriteString("\n")

	for _, row := range rows {
		blob := make([]string, len(row.Answers))
		for i, c := range row.Answers {
			blob[i] = c.Label + "=" + c.Value
		}
		sb.WriteString(strings.Join([]string{
			fmt.Sprintf("%d", row.SubmissionID),
			row.Date.Format(time.RFC3339),
			strings.Join(blob, "; "),
		}, delimiter))
		sb.WriteString("\n")
	}
	return []byte(sb.String())
}

func renderJSON(rows []Row) ([]byte, error) {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "export.json")
	}
	return data, nil
}

// renderExcel lays out one column per field id: the requested order
// when given, first-seen across the result set otherwise. Missing
// answers render as empty cells.
func renderExcel(rows []Row, fieldOrder []int64) ([]byte, error) {
	if len(fieldOrder) == 0 {
		seen := map[int64]bool{}
		for _, row := range rows {
			for _, c := range row.Answers {
				if !seen[c.FieldID] {
					seen[c.FieldID] = true
					fieldOrder = append(fieldOrder, c.FieldID)
				}
			}
		}
	}

	labels := map[int64]string{}
	for _, row := range rows {
		for _, c := range row.Answers {
			if labels[c.FieldID] == "" {
				labels[c.FieldID] = c.Label
			}
		}
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	header := []any{"id", "date"}
	for _, id := range fieldOrder {
		header = append(header, labels[id])
	}
	if err := setRow(f, sheet, 1, header); err != nil {
		return nil, err
	}

	for i, row := range rows {
		byField := map[int64]string{}
		for _, c := range row.Answers {
			byField[c.FieldID] = c.Value
		}

		cells := []any{row.SubmissionID, row.Date.Format(time.RFC3339)}
		for _, id := range fieldOrder {
			cells = append(cells, byField[id])
		}
		if err := setRow(f, sheet, i+2, cells); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, errors.Wrap(err, "export.xlsx.write")
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, sheet string, row int, cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return errors.Wrap(err, "export.xlsx.coords")
	}
	return errors.Wrap(f.SetSheetRow(sheet, cell, &cells), "export.xlsx.row")
}

type xmlAnswer struct {
	Label string `xml:"label,attr"`
	Value string `xml:",chardata"`
}

type xmlSubmission struct {
	ID      int64       `xml:"id,attr"`
	Date    string      `xml:"date,attr"`
	Answers []xmlAnswer `xml:"answer"`
}

type xmlExport struct {
	XMLName     xml.Name        `xml:"submissions"`
	Submissions []xmlSubmission `xml:"submission"`
}

// renderXML goes through encoding/xml so labels and values come out
// escaped.
func renderXML(rows []Row) ([]byte, error) {
	doc := xmlExport{}
	for _, row := range rows {
		sub := xmlSubmission{
			ID:   row.SubmissionID,
			Date: row.Date.Format(time.RFC3339),
		}
		for _, c := range row.Answers {
			sub.Answers = append(sub.Answers, xmlAnswer{Label: c.Label, Value: c.Value})
		}
		doc.Submissions = append(doc.Submissions, sub)
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "export.xml")
	}
	return append([]byte(xml.Header), data...), nil
}
