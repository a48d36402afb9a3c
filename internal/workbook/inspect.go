package workbook

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/batchwatch/constants"
	"github.com/joseph-ayodele/batchwatch/internal/api"
	"github.com/joseph-ayodele/batchwatch/internal/common"
)

// Info describes a spreadsheet that passed the preflight check.
type Info struct {
	Name   string
	Ext    string
	Size   int64
	Sheets []string
	// DataRows excludes the header row of the first sheet. Only set when Counted is true.
	DataRows int
	Counted  bool
}

// Inspect checks that doc is an Excel file the processing service will accept.
// Legacy .xls files are accepted on extension and size alone.
func Inspect(doc *api.Document) (*Info, error) {
	if doc == nil {
		return nil, invalid("a spreadsheet document is required")
	}
	ext := constants.NormalizeExt(filepath.Ext(doc.Name))
	if _, ok := constants.AllowedExtensions[ext]; !ok {
		return nil, invalid("only Excel files (.xlsx, .xls) are allowed")
	}
	if doc.Size <= 0 {
		return nil, invalid(fmt.Sprintf("%s is empty", doc.Name))
	}
	if doc.Size > constants.MaxDocumentBytes {
		return nil, invalid(fmt.Sprintf("%s exceeds the %d MB upload limit", doc.Name, constants.MaxDocumentBytes>>20))
	}

	info := &Info{Name: doc.Name, Ext: ext, Size: doc.Size}
	if ext != "xlsx" {
		return info, nil
	}

	rc, err := doc.Open()
	if err != nil {
		return nil, common.WrapError(err, "open spreadsheet")
	}
	defer rc.Close()

	sheets, rows, err := countRows(rc)
	if err != nil {
		return nil, common.NewAppError(common.CodeValidation, "spreadsheet could not be read", fmt.Errorf("%w: %v", common.ErrValidation, err))
	}
	if len(sheets) == 0 {
		return nil, invalid(fmt.Sprintf("%s has no sheets", doc.Name))
	}
	info.Sheets = sheets
	info.DataRows = rows
	info.Counted = true
	return info, nil
}

func countRows(r io.Reader) ([]string, int, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, 0, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, 0, err
	}
	n := 0
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if !blank(row) {
			n++
		}
	}
	return sheets, n, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func invalid(msg string) error {
	return common.NewAppError(common.CodeValidation, msg, common.ErrValidation)
}
