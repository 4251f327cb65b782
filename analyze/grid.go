package analyze

import (
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

var ErrUnsupportedFile = errors.New("analyze: unsupported file format")

// Grid is the rectangular shape every supported tabular format is
// reduced to: one header row plus data rows. Rows may be ragged,
// Column pads with empty cells.
type Grid struct {
	Headers []string
	Rows    [][]string
}

func (g Grid) Column(i int) []string {
	col := make([]string, len(g.Rows))
	for r, row := range g.Rows {
		if i < len(row) {
			col[r] = row[i]
		}
	}
	return col
}

// ReadGrid parses raw spreadsheet bytes into a Grid. The format is
// picked from the file extension. A missing or unreadable sheet fails
// the whole call, there are no partial results.
func ReadGrid(filename string, r io.Reader) (Grid, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return readExcel(r)
	case ".csv":
		return readCSV(r)
	default:
		return Grid{}, ErrUnsupportedFile
	}
}

func readExcel(r io.Reader) (Grid, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Grid{}, errors.Wrap(err, "analyze.excel.open")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Grid{}, errors.New("analyze.excel: workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Grid{}, errors.Wrap(err, "analyze.excel.rows")
	}
	return gridFromRows(rows)
}

func readCSV(r io.Reader) (Grid, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	rows, err := cr.ReadAll()
	if err != nil {
		return Grid{}, errors.Wrap(err, "analyze.csv.read")
	}
	return gridFromRows(rows)
}

func gridFromRows(rows [][]string) (Grid, error) {
	if len(rows) == 0 {
		return Grid{}, errors.New("analyze: sheet is empty")
	}
	return Grid{Headers: rows[0], Rows: rows[1:]}, nil
}
