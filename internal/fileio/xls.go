package fileio

import (
	"bytes"
	"errors"
	"io"

	xls "github.com/extrame/xls"
)

// Row.LastCol() у extrame/xls врёт на объединённых ячейках, поэтому ширину
// листа определяем сами, пробуя колонки до xlsProbeCols.
const xlsProbeCols = 64

// строки BIFF без юникод-флага декодируются этой кодировкой
var xlsCharsets = []string{"utf-8", "euc-kr", "windows-1251"}

func readXLS(r io.Reader) ([]sheet, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	wb, err := openXLS(b)
	if err != nil {
		return nil, err
	}

	out := make([]sheet, 0, wb.NumSheets())
	for i := 0; i < wb.NumSheets(); i++ {
		ws := wb.GetSheet(i)
		if ws == nil {
			continue
		}
		out = append(out, sheet{name: ws.Name, rows: xlsRows(ws)})
	}
	return out, nil
}

func openXLS(b []byte) (*xls.WorkBook, error) {
	errs := make([]error, 0, len(xlsCharsets))
	for _, cs := range xlsCharsets {
		wb, err := xls.OpenReader(bytes.NewReader(b), cs)
		if err == nil && wb != nil {
			return wb, nil
		}
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return nil, errors.New("xls: workbook not opened")
}

func xlsRows(ws *xls.WorkSheet) [][]string {
	last := int(ws.MaxRow)
	width := 0
	for i := 0; i <= last; i++ {
		if row := ws.Row(i); row != nil {
			for j := xlsProbeCols - 1; j >= width; j-- {
				if normalizeCell(row.Col(j)) != "" {
					width = j + 1
					break
				}
			}
		}
	}
	if width == 0 {
		return nil
	}

	rows := make([][]string, last+1)
	for i := range rows {
		cells := make([]string, width)
		if row := ws.Row(i); row != nil {
			for j := range cells {
				cells[j] = normalizeCell(row.Col(j))
			}
		}
		rows[i] = cells
	}
	return rows
}
