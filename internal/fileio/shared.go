package fileio

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ErrUnsupported: расширение файла не поддерживается.
var ErrUnsupported = errors.New("unsupported file")

// сколько верхних строк просматриваем в поисках шапки
const headerProbeRows = 10

// sheet: один лист выгрузки; у CSV имя пустое.
type sheet struct {
	name string
	rows [][]string
}

// table: записи листа по заголовкам.
type table struct {
	sheet string
	recs  []map[string]string
}

// readTables выбирает парсер по расширению и раскладывает каждый лист в записи.
// Строка заголовков ищется автоматически, пустые листы пропускаются.
func readTables(r io.Reader, filename string) ([]table, error) {
	var (
		sheets []sheet
		err    error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		sheets, err = readXLSX(r)
	case ".xls":
		sheets, err = readXLS(r)
	case ".csv":
		var rows [][]string
		if rows, err = readCSV(r); err == nil {
			sheets = []sheet{{rows: rows}}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filename)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	out := make([]table, 0, len(sheets))
	for _, sh := range sheets {
		if len(sh.rows) == 0 {
			continue
		}
		headerRow := findHeaderRow(sh.rows)
		h := pickHeader(sh.rows, headerRow)
		out = append(out, table{sheet: strings.TrimSpace(sh.name), recs: rowsToMaps(sh.rows, h, headerRow)})
	}
	return out, nil
}

// findHeaderRow: первая строка (1-based), где нашлась колонка названия; иначе 1.
func findHeaderRow(rows [][]string) int {
	for i := 0; i < len(rows) && i < headerProbeRows; i++ {
		for _, v := range rows[i] {
			if columnOf(v) == colTitle {
				return i + 1
			}
		}
	}
	return 1
}

// pickHeader: берёт строку заголовков и подставляет Column N для пустых.
func pickHeader(rows [][]string, headerRow int) []string {
	idx := headerRow - 1
	if idx < 0 || idx >= len(rows) {
		idx = 0
	}
	h := rows[idx]
	out := make([]string, len(h))
	for i, v := range h {
		v = strings.TrimSpace(strings.TrimPrefix(v, "\uFEFF"))
		if v == "" {
			v = fmt.Sprintf("Column %d", i+1)
		}
		out[i] = v
	}
	return out
}

// rowsToMaps: конвертирует AoA в []map по заголовкам, пропуская полностью пустые строки.
func rowsToMaps(rows [][]string, headers []string, headerRow int) []map[string]string {
	var out []map[string]string
	for r := headerRow; r < len(rows); r++ {
		rec := rows[r]
		m := make(map[string]string, len(headers))
		empty := true
		for c, h := range headers {
			var v string
			if c < len(rec) {
				v = rec[c]
			}
			if strings.TrimSpace(v) != "" {
				empty = false
			}
			m[h] = v
		}
		if !empty {
			out = append(out, m)
		}
	}
	return out
}

// normalizeCell: значение ячейки без NBSP и крайних пробелов.
func normalizeCell(s string) string {
	s = strings.NewReplacer("\u00A0", " ", "\u202F", " ").Replace(s)
	return strings.TrimSpace(s)
}
