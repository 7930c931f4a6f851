package morph

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Annotator tags raw text with part-of-speech and morphological
// features, one annotation run per input text.
type Annotator interface {
	Annotate(ctx context.Context, text string) ([]Sentence, error)
}

// HTTPAnnotator calls a tagging service that accepts plain text and
// responds with CoNLL-U. Works against UDPipe-style endpoints.
type HTTPAnnotator struct {
	endpoint string
	language string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPAnnotator builds an annotator for the given endpoint URL. A
// nil client gets a default with a 60 second timeout; tagging long
// comments is slow.
func NewHTTPAnnotator(endpoint string, client *http.Client, logger *zap.Logger) (*HTTPAnnotator, error) {
	if endpoint == "" {
		return nil, errors.New("annotator requires an endpoint URL")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, errors.Wrap(err, "parsing annotator endpoint")
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPAnnotator{endpoint: endpoint, client: client, logger: logger}, nil
}

// SetLanguage selects the tagging model the service should apply.
// Empty keeps the service default.
func (a *HTTPAnnotator) SetLanguage(language string) {
	a.language = language
}

func (a *HTTPAnnotator) Annotate(ctx context.Context, text string) ([]Sentence, error) {
	form := url.Values{}
	form.Set("data", text)
	if a.language != "" {
		form.Set("model", a.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "building annotation request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "calling annotation service")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading annotation response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("annotation service returned status %d", resp.StatusCode)
	}

	sentences, err := ParseConllu(string(body))
	if err != nil {
		return nil, errors.Wrap(err, "parsing annotation response")
	}
	a.logger.Debug("annotated text",
		zap.Int("sentences", len(sentences)),
		zap.Int("chars", len(text)))
	return sentences, nil
}

// AnnotateRecords runs the annotator over raw content/target rows and
// returns artifact records for the rows that annotated cleanly. Rows
// whose annotation fails are logged and dropped rather than failing
// the whole run.
func AnnotateRecords(ctx context.Context, annotator Annotator, rows []RawRow, logger *zap.Logger) ([]Record, error) {
	if annotator == nil {
		return nil, errors.New("annotation requires an annotator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sentences, err := annotator.Annotate(ctx, row.Content)
		if err != nil {
			logger.Warn("skipping example",
				zap.Int("row", i),
				zap.Error(err))
			continue
		}
		records = append(records, Record{
			Content:  row.Content,
			Target:   row.Target,
			Features: sentences,
		})
	}
	logger.Info("annotation finished",
		zap.Int("input_rows", len(rows)),
		zap.Int("kept_rows", len(records)))
	return records, nil
}

// RawRow is one unannotated input row.
type RawRow struct {
	Content string
	Target  string
}
