package baseline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{"response_time", "status_code", "success"}

// ErrMalformedCSV is returned by ReadCSV for input that is not a baseline file.
var ErrMalformedCSV = errors.New("malformed baseline csv")

// WriteCSV writes one row per sample under the response_time,status_code,success header.
func (r *Result) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, s := range r.Samples {
		success := "0"
		if s.Success {
			success = "1"
		}
		rec := []string{
			strconv.FormatFloat(s.ResponseTime, 'f', 2, 64),
			strconv.Itoa(s.StatusCode),
			success,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a file written by WriteCSV. The file carries no timing, so
// Elapsed is rebuilt as one interval per sample.
func ReadCSV(r io.Reader, interval time.Duration) (*Result, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCSV, err)
	}
	if len(records) == 0 || records[0][0] != csvHeader[0] {
		return nil, fmt.Errorf("%w: missing header", ErrMalformedCSV)
	}

	res := &Result{Samples: make([]Sample, 0, len(records)-1)}
	for i, rec := range records[1:] {
		rt, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrMalformedCSV, i+2, err)
		}
		code, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrMalformedCSV, i+2, err)
		}
		res.Samples = append(res.Samples, Sample{ResponseTime: rt, StatusCode: code, Success: rec[2] == "1"})
	}
	res.Elapsed = time.Duration(len(res.Samples)) * interval
	return res, nil
}
