package morph

import (
	"encoding/csv"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Record is one row of the preprocessing artifact: the raw text, its
// class label and the cached annotations.
type Record struct {
	Content  string
	Target   string
	Features []Sentence
}

// Artifact CSV column names, fixed regardless of how the source data
// named them.
var artifactHeader = []string{"content", "target", "features"}

// WriteArtifact writes records as the cached annotation artifact: a
// CSV with content, target and JSON-encoded features columns.
func WriteArtifact(path string, records []Record) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating artifact file")
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(artifactHeader); err != nil {
		return errors.Wrap(err, "writing artifact header")
	}
	for i, rec := range records {
		features, err := json.Marshal(rec.Features)
		if err != nil {
			return errors.Wrapf(err, "encoding features of record %d", i)
		}
		if err := w.Write([]string{rec.Content, rec.Target, string(features)}); err != nil {
			return errors.Wrapf(err, "writing record %d", i)
		}
	}
	w.Flush()
	return errors.Wrap(w.Error(), "flushing artifact")
}

// ReadArtifact loads a preprocessing artifact written by WriteArtifact.
func ReadArtifact(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening artifact file")
	}
	defer file.Close()

	r := csv.NewReader(file)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "reading artifact")
	}
	if len(rows) == 0 {
		return nil, errors.New("artifact is empty")
	}

	columns, err := artifactColumns(rows[0])
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		var features []Sentence
		if raw := row[columns["features"]]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &features); err != nil {
				return nil, errors.Wrapf(err, "decoding features of record %d", i)
			}
		}
		records = append(records, Record{
			Content:  row[columns["content"]],
			Target:   row[columns["target"]],
			Features: features,
		})
	}
	return records, nil
}

func artifactColumns(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[name] = i
	}
	for _, required := range artifactHeader {
		if _, ok := columns[required]; !ok {
			return nil, errors.Errorf("artifact is missing the %q column", required)
		}
	}
	return columns, nil
}

// ReadRawRows loads an unannotated CSV, pulling text and label from
// the named columns.
func ReadRawRows(path, contentColumn, targetColumn string) ([]RawRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening data file")
	}
	defer file.Close()

	r := csv.NewReader(file)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "reading data file")
	}
	if len(rows) == 0 {
		return nil, errors.New("data file is empty")
	}

	columns := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		columns[name] = i
	}
	contentIdx, ok := columns[contentColumn]
	if !ok {
		return nil, errors.Errorf("data file is missing the %q column", contentColumn)
	}
	targetIdx, ok := columns[targetColumn]
	if !ok {
		return nil, errors.Errorf("data file is missing the %q column", targetColumn)
	}

	raw := make([]RawRow, 0, len(rows)-1)
	for _, row := range rows[1:] {
		raw = append(raw, RawRow{Content: row[contentIdx], Target: row[targetIdx]})
	}
	return raw, nil
}
