package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/qw4990/pds_replay/experiment"
)

var csvHeader = []string{"round", "measurement_name", "measurement_value"}

// WriteCSV writes the measurements as round,measurement_name,measurement_value rows.
func WriteCSV(w io.Writer, ms []experiment.Measurement) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, m := range ms {
		row := []string{strconv.Itoa(m.Round), string(m.Kind), strconv.FormatFloat(m.Value, 'f', -1, 64)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes the measurements to a new file at path.
func SaveCSV(path string, ms []experiment.Measurement) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %v: %w", path, err)
	}
	if err := WriteCSV(f, ms); err != nil {
		f.Close()
		return fmt.Errorf("write %v: %w", path, err)
	}
	return f.Close()
}
