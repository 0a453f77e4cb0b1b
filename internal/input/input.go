// Package input reads exam records from CSV, JSON and XLSX files.
package input

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/examclean/internal/model"
)

// headerAliases maps a column name, lowercased and stripped of separators,
// to the csv tag of the ExamInput field it fills.
var headerAliases = map[string]string{
	"datasource":   "data_source",
	"source":       "data_source",
	"examcode":     "exam_code",
	"code":         "exam_code",
	"examname":     "exam_name",
	"exam":         "exam_name",
	"name":         "exam_name",
	"modalitycode": "modality_code",
	"modality":     "modality_code",
}

// Load reads exams from path, choosing the format by extension.
func Load(path string) ([]model.ExamInput, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "input: open csv")
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(f)
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "input: read json")
		}
		return ReadJSON(data)
	case ".xlsx":
		return ReadXLSX(path)
	default:
		return nil, eris.Errorf("input: unsupported file type %q", filepath.Ext(path))
	}
}

// ReadCSV decodes exams from CSV with a header row.
func ReadCSV(r io.Reader) ([]model.ExamInput, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return []model.ExamInput{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "input: read csv header")
	}
	return decodeRows(cr, header)
}

// ReadXLSX decodes exams from the first sheet of an XLSX workbook. The first
// row is the header.
func ReadXLSX(path string) ([]model.ExamInput, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "input: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("input: xlsx has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return []model.ExamInput{}, nil
	}
	return decodeRows(&rowReader{rows: rows[1:], width: len(rows[0])}, rows[0])
}

// ReadJSON decodes exams from a JSON array, or an object holding the array
// under "exams" or "records". Keys may be snake_case, camelCase or
// upper case.
func ReadJSON(data []byte) ([]model.ExamInput, error) {
	if !gjson.ValidBytes(data) {
		return nil, eris.New("input: invalid json")
	}
	r := gjson.ParseBytes(data)
	if !r.IsArray() {
		found := false
		for _, p := range []string{"exams", "records", "data"} {
			if v := r.Get(p); v.IsArray() {
				r, found = v, true
				break
			}
		}
		if !found {
			return nil, eris.New("input: json must be an array of exams or hold one under \"exams\"")
		}
	}

	out := make([]model.ExamInput, 0, len(r.Array()))
	for _, item := range r.Array() {
		in := model.ExamInput{
			DataSource:   jsonField(item, "data_source", "dataSource", "DATA_SOURCE"),
			ExamCode:     jsonField(item, "exam_code", "examCode", "EXAM_CODE"),
			ExamName:     jsonField(item, "exam_name", "examName", "EXAM_NAME"),
			ModalityCode: jsonField(item, "modality_code", "modalityCode", "MODALITY_CODE", "modality"),
		}
		if keep(in) {
			out = append(out, in)
		}
	}
	return out, nil
}

func jsonField(item gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := item.Get(p); v.Exists() && v.String() != "" {
			return strings.TrimSpace(v.String())
		}
	}
	return ""
}

func decodeRows(r csvutil.Reader, header []string) ([]model.ExamInput, error) {
	normalized := normalizeHeader(header)
	if !slices.Contains(normalized, "exam_name") {
		return nil, eris.Errorf("input: no exam name column in header %v", header)
	}

	dec, err := csvutil.NewDecoder(r, normalized...)
	if err != nil {
		return nil, eris.Wrap(err, "input: csv decoder")
	}

	out := []model.ExamInput{}
	for {
		var in model.ExamInput
		if err := dec.Decode(&in); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrapf(err, "input: decode line %d", len(out)+2)
		}
		in = trim(in)
		if keep(in) {
			out = append(out, in)
		}
	}
	return out, nil
}

func normalizeHeader(header []string) []string {
	strip := strings.NewReplacer("_", "", " ", "", "-", "")
	out := make([]string, len(header))
	used := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if alias, ok := headerAliases[strip.Replace(h)]; ok && !used[alias] {
			h = alias
		}
		if used[h] {
			h = fmt.Sprintf("%s_%d", h, i)
		}
		used[h] = true
		out[i] = h
	}
	return out
}

func trim(in model.ExamInput) model.ExamInput {
	in.DataSource = strings.TrimSpace(in.DataSource)
	in.ExamCode = strings.TrimSpace(in.ExamCode)
	in.ExamName = strings.TrimSpace(in.ExamName)
	in.ModalityCode = strings.TrimSpace(in.ModalityCode)
	return in
}

func keep(in model.ExamInput) bool {
	if in.ExamName == "" {
		zap.L().Debug("input: skipping row without exam name", zap.String("exam_code", in.ExamCode))
		return false
	}
	return true
}

// rowReader feeds spreadsheet rows to a csvutil decoder, padding short rows
// to the header width.
type rowReader struct {
	rows  [][]string
	width int
	i     int
}

func (r *rowReader) Read() ([]string, error) {
	if r.i >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.i]
	r.i++
	if len(row) < r.width {
		padded := make([]string, r.width)
		copy(padded, row)
		row = padded
	}
	return row[:r.width], nil
}
