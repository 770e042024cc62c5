package fileio

import (
	"fmt"
	"io"

	excelize "github.com/xuri/excelize/v2"
)

// readXLSX отдаёт все листы книги; краулер кладёт категорию в имя листа.
func readXLSX(r io.Reader) ([]sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	names := f.GetSheetList()
	out := make([]sheet, 0, len(names))
	for _, name := range names {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", name, err)
		}
		for _, row := range rows {
			for i, v := range row {
				row[i] = normalizeCell(v)
			}
		}
		out = append(out, sheet{name: name, rows: rows})
	}
	return out, nil
}
