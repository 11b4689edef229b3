package livedata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/tejusbharadwaj/currentcost/internal/buffer"
)

const exportTimeLayout = "2006-01-02 15:04:05.000000-07:00"

func writeCSV(w io.Writer, snap buffer.ReadingsSnapshot) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	if err := cw.Write([]string{"Time", "kWH"}); err != nil {
		return fmt.Errorf("failed to write export header: %w", err)
	}
	for i := range snap.Dates {
		row := []string{
			snap.Dates[i].Format(exportTimeLayout),
			strconv.FormatFloat(snap.Values[i], 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write export row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeCSVFile(path string, snap buffer.ReadingsSnapshot) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close export file: %w", cerr)
		}
	}()
	return writeCSV(f, snap)
}
