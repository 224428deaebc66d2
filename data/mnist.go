// Package data loads labeled digit samples and converts images to network input.
package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/b0tShaman/neuro-digits/ml"
)

// Sample is one labeled 28x28 image.
type Sample struct {
	Label  int
	Pixels []byte
}

// LoadCSV reads an MNIST CSV file: one row per image, the label followed by
// 784 pixel values. A non-numeric first row is treated as a header.
func LoadCSV(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

func ReadCSV(r io.Reader) ([]Sample, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = ml.InputSize + 1
	reader.ReuseRecord = true

	var samples []Sample
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		label, err := strconv.Atoi(record[0])
		if err != nil {
			if line == 1 {
				continue // header
			}
			return nil, fmt.Errorf("line %d: label %q: %w", line, record[0], err)
		}
		if label < 0 || label >= ml.OutputSize {
			return nil, fmt.Errorf("line %d: label %d outside 0..%d", line, label, ml.OutputSize-1)
		}

		pixels := make([]byte, ml.InputSize)
		for i, field := range record[1:] {
			v, err := strconv.ParseUint(field, 10, 8)
			if err != nil {
				return nil, fmt.Errorf("line %d: pixel %d: %w", line, i, err)
			}
			pixels[i] = byte(v)
		}
		samples = append(samples, Sample{Label: label, Pixels: pixels})
	}
	return samples, nil
}
