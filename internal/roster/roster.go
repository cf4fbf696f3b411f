package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rebel-tools/groupsync/models"
)

// Columns is the fixed layout of the sign-up sheet.
var Columns = []string{
	"firstName", "surname", "pronoun", "fbName", "mmName", "email", "phone",
	"postalCode", "actions", "workingGroups", "notes", "subGroups", "origin",
}

// ReadCSV reads roster rows in Columns order. The first row is a header and
// is skipped. Short rows are padded, extra columns ignored and blank rows
// dropped.
func ReadCSV(r io.Reader) ([]models.RawRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var records []models.RawRecord
	for line := 0; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read roster: %w", err)
		}
		if line == 0 || blank(row) {
			continue
		}
		records = append(records, toRecord(row))
	}

	return records, nil
}

// ReadFile opens path and reads it with ReadCSV.
func ReadFile(path string) ([]models.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open roster: %w", err)
	}
	defer f.Close()

	return ReadCSV(f)
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func toRecord(row []string) models.RawRecord {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	return models.RawRecord{
		FirstName:     cell(0),
		Surname:       cell(1),
		Pronoun:       cell(2),
		FBName:        cell(3),
		MMName:        cell(4),
		Email:         cell(5),
		Phone:         cell(6),
		PostalCode:    cell(7),
		Actions:       cell(8),
		WorkingGroups: cell(9),
		Notes:         cell(10),
		SubGroups:     cell(11),
		Origin:        cell(12),
	}
}
