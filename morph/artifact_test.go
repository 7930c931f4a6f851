package morph

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []Record {
	return []Record{
		{
			Content: "Der Hund bellt.",
			Target:  "0",
			Features: []Sentence{{
				{"form": "Der", "upostag": "DET", "Case": "Nom"},
				{"form": "Hund", "upostag": "NOUN"},
				{"form": "bellt", "upostag": "VERB", "Tense": "Pres"},
				{"form": ".", "upostag": "PUNCT"},
			}},
		},
		{
			Content:  "Hallo",
			Target:   "1",
			Features: []Sentence{{{"form": "Hallo", "upostag": "INTJ"}}},
		},
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.csv")
	require.NoError(t, WriteArtifact(path, sampleRecords()))

	loaded, err := ReadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), loaded)
}

func TestReadArtifactMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("content,target\na,b\n"), 0o644))

	_, err := ReadArtifact(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "features")
}

func TestReadRawRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.csv")
	require.NoError(t, os.WriteFile(path, []byte("text,label\nhello,1\nworld,0\n"), 0o644))

	rows, err := ReadRawRows(path, "text", "label")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, RawRow{Content: "hello", Target: "1"}, rows[0])

	_, err = ReadRawRows(path, "content", "label")
	assert.Error(t, err)
}

func TestHTTPAnnotator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "Der Hund", r.Form.Get("data"))
		_, _ = w.Write([]byte("1\tDer\tder\tDET\t_\tCase=Nom\t2\tdet\t_\t_\n" +
			"2\tHund\tHund\tNOUN\t_\t_\t0\troot\t_\t_\n"))
	}))
	defer server.Close()

	annotator, err := NewHTTPAnnotator(server.URL, server.Client(), nil)
	require.NoError(t, err)

	sentences, err := annotator.Annotate(context.Background(), "Der Hund")
	require.NoError(t, err)
	require.Len(t, sentences, 1)
	require.Len(t, sentences[0], 2)
	assert.Equal(t, "DET", sentences[0][0].Tag(UposFeature))
	assert.Equal(t, "Nom", sentences[0][0].Tag("Case"))
}

func TestHTTPAnnotatorServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	annotator, err := NewHTTPAnnotator(server.URL, server.Client(), nil)
	require.NoError(t, err)

	_, err = annotator.Annotate(context.Background(), "text")
	assert.Error(t, err)
}

// failEveryOther fails annotation for every second text.
type failEveryOther struct{ calls int }

func (f *failEveryOther) Annotate(ctx context.Context, text string) ([]Sentence, error) {
	f.calls++
	if f.calls%2 == 0 {
		return nil, assert.AnError
	}
	return []Sentence{{{"form": text, "upostag": "X"}}}, nil
}

func TestAnnotateRecordsDropsFailures(t *testing.T) {
	rows := []RawRow{
		{Content: "one", Target: "a"},
		{Content: "two", Target: "b"},
		{Content: "three", Target: "c"},
	}
	records, err := AnnotateRecords(context.Background(), &failEveryOther{}, rows, nil)
	require.NoError(t, err)

	// The second row fails and is dropped, the rest survive in order.
	require.Len(t, records, 2)
	assert.Equal(t, "one", records[0].Content)
	assert.Equal(t, "three", records[1].Content)
}
