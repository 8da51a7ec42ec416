// Package csvimport reads the student roster spreadsheets exported by the secretariat.
package csvimport

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ieppc/matricula/internal/pkg/apperrors"
)

// Row is one student line with its 1-based line number in the source file
type Row struct {
	Line       int
	GivenName  string
	FamilyName string
	NationalID string
}

var (
	// ErrEmptyFile is returned when the file has no header line
	ErrEmptyFile = fmt.Errorf("%w: el archivo está vacío", apperrors.ErrValidationFailed)
	// ErrMissingColumn is returned when a required header is absent
	ErrMissingColumn = fmt.Errorf("%w: falta una columna obligatoria", apperrors.ErrValidationFailed)
)

const (
	colGivenName  = "givenName"
	colFamilyName = "familyName"
	colNationalID = "nationalId"
)

// headerAliases maps normalised header text to a column
var headerAliases = map[string]string{
	"nombres":     colGivenName,
	"nombre":      colGivenName,
	"given_name":  colGivenName,
	"givenname":   colGivenName,
	"apellidos":   colFamilyName,
	"apellido":    colFamilyName,
	"family_name": colFamilyName,
	"familyname":  colFamilyName,
	"dni":         colNationalID,
	"national_id": colNationalID,
	"nationalid":  colNationalID,
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parse reads a comma or semicolon separated file whose first record is a header
// naming the given name, family name and DNI columns in any order. Blank lines
// are skipped and every value is trimmed.
func Parse(r io.Reader) ([]Row, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	data, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = detectDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, csvError(err)
	}

	index, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, csvError(err)
		}
		if blank(record) {
			continue
		}
		line, _ := reader.FieldPos(0)
		rows = append(rows, Row{
			Line:       line,
			GivenName:  field(record, index[colGivenName]),
			FamilyName: field(record, index[colFamilyName]),
			NationalID: field(record, index[colNationalID]),
		})
	}
	return rows, nil
}

// detectDelimiter picks ';' when the header line has more semicolons than commas
func detectDelimiter(data []byte) rune {
	first := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		first = data[:i]
	}
	if bytes.Count(first, []byte{';'}) > bytes.Count(first, []byte{','}) {
		return ';'
	}
	return ','
}

func mapHeader(header []string) (map[string]int, error) {
	index := make(map[string]int, 3)
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if col, ok := headerAliases[key]; ok {
			if _, dup := index[col]; !dup {
				index[col] = i
			}
		}
	}

	var missing []string
	for _, col := range []string{colGivenName, colFamilyName, colNationalID} {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return index, nil
}

func csvError(err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return &apperrors.ImportError{
			Err:     apperrors.ErrValidationFailed,
			Message: "el archivo CSV no es válido",
			Rows:    []apperrors.RowError{{Line: parseErr.Line, Message: parseErr.Err.Error()}},
		}
	}
	return fmt.Errorf("failed to read import file: %w", err)
}

func field(record []string, i int) string {
	if i < len(record) {
		return strings.TrimSpace(record[i])
	}
	return ""
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
