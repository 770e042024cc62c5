package fileio

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// readCSV читает CSV, определяя кодировку и приводя её к UTF-8.
// Корейские выгрузки из Excel обычно в EUC-KR (CP949).
func readCSV(r io.Reader) ([][]string, error) {
	br := bufio.NewReader(r)
	if bom, _ := br.Peek(len(utf8BOM)); bytes.Equal(bom, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	peek, _ := br.Peek(4096)
	var dec io.Reader = br
	if enc := detectEncoding(peek); enc != nil {
		dec = transform.NewReader(br, enc.NewDecoder())
	}

	cr := csv.NewReader(dec)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		for i := range rec {
			rec[i] = normalizeCell(rec[i])
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// detectEncoding: nil - уже UTF-8.
func detectEncoding(peek []byte) encoding.Encoding {
	if validUTF8Prefix(peek) {
		return nil
	}
	if det, err := chardet.NewTextDetector().DetectBest(peek); err == nil && det != nil {
		switch cs := strings.ToLower(det.Charset); {
		case cs == "utf-8":
			return nil
		case (cs == "windows-1251" || cs == "cp1251") && det.Confidence >= 80:
			return charmap.Windows1251
		}
	}
	return korean.EUCKR
}

// validUTF8Prefix допускает обрезанную на границе Peek последнюю руну.
func validUTF8Prefix(b []byte) bool {
	for cut := 0; cut < utf8.UTFMax && cut < len(b); cut++ {
		if utf8.Valid(b[:len(b)-cut]) {
			return true
		}
	}
	return len(b) == 0
}
