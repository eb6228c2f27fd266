package httpapi

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/vendaflow/zapengine/internal/core"
	"github.com/vendaflow/zapengine/internal/phone"
)

// ParseContactsCSV reads a delimiter-separated contact table. The
// delimiter (comma or semicolon) is sniffed from the header line and
// columns are mapped by header name, so exports from different CRMs
// import without reordering. Rows whose phone cannot be normalized are
// dropped.
func ParseContactsCSV(r io.Reader, countryCode string) ([]core.Contact, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(512)
	if err != nil && err != io.EOF {
		return nil, err
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	// Sniff the delimiter from the header line only; data rows may carry
	// commas inside name fields.
	firstLine := string(head)
	if i := strings.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = firstLine[:i]
	}
	if strings.Count(firstLine, ";") > strings.Count(firstLine, ",") {
		reader.Comma = ';'
	}

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("empty contact file: %w", core.ErrValidation)
	}

	nameIdx, phoneIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "name", "nome":
			nameIdx = i
		case "phone", "telefone", "celular", "whatsapp":
			phoneIdx = i
		}
	}
	if phoneIdx < 0 {
		return nil, fmt.Errorf("phone column not found: %w", core.ErrValidation)
	}

	var out []core.Contact
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed contact row: %w", core.ErrValidation)
		}
		if phoneIdx >= len(row) {
			continue
		}
		normalized, ok := phone.Normalize(row[phoneIdx], countryCode)
		if !ok {
			continue
		}
		name := ""
		if nameIdx >= 0 && nameIdx < len(row) {
			name = strings.TrimSpace(row[nameIdx])
		}
		out = append(out, core.Contact{Name: name, Phone: normalized})
	}
	return out, nil
}
