package capture

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/hookbin/hookbin/internal/metrics"
	"github.com/hookbin/hookbin/internal/models"
	"github.com/hookbin/hookbin/internal/storage"
	"github.com/hookbin/hookbin/internal/stream"
	"github.com/hookbin/hookbin/pkg/utils"
)

// Pipeline turns an inbound HTTP request into a stored, numbered log entry
// and publishes it to live subscribers. Any method and any path suffix
// beneath the bin segment is accepted; the suffix is preserved inside the
// entry's URL but never interpreted.
type Pipeline struct {
	store          storage.BinStore
	registry       *stream.Registry
	metricsManager *metrics.Manager
	logger         *logrus.Logger
}

// NewPipeline creates a new capture pipeline
func NewPipeline(store storage.BinStore, registry *stream.Registry, metricsManager *metrics.Manager) *Pipeline {
	return &Pipeline{
		store:          store,
		registry:       registry,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
	}
}

// Capture builds a log entry from the request, appends it to the bin and,
// on success, publishes the completed entry (with its assigned log number)
// to the bin's subscribers. A NOT_FOUND error from the store means the bin
// id is unknown; any other error is a storage failure.
func (p *Pipeline) Capture(ctx context.Context, binID string, r *http.Request) (*models.LogEntry, error) {
	start := time.Now()

	entry, err := p.buildEntry(r)
	if err != nil {
		p.recordCapture("error", start)
		return nil, err
	}

	logNumber, err := p.store.AppendEntry(ctx, binID, entry)
	if err != nil {
		if utils.IsNotFound(err) {
			p.recordCapture("unknown_bin", start)
		} else {
			p.logger.Error("Failed to store captured request", map[string]interface{}{
				"bin":   binID,
				"error": err,
			})
			p.recordCapture("error", start)
		}
		return nil, err
	}
	entry.LogNumber = logNumber

	// Publish only after the entry is durable, so subscribers never see
	// an entry that a fetch of the log would not return.
	p.registry.Publish(binID, entry)

	p.recordCapture("success", start)

	p.logger.Debug("Request captured", map[string]interface{}{
		"bin":        binID,
		"log_number": logNumber,
		"method":     entry.Method,
	})

	return entry, nil
}

// buildEntry copies method, full path+query, headers and body out of the
// request and assigns the capture timestamp.
func (p *Pipeline) buildEntry(r *http.Request) (*models.LogEntry, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to read request body", err.Error())
	}

	return &models.LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Method:    r.Method,
		URL:       r.URL.RequestURI(),
		Headers:   map[string][]string(r.Header.Clone()),
		Body:      encodeBody(raw, r.Header.Get("Content-Type")),
	}, nil
}

// encodeBody stores JSON bodies structurally, other text bodies as a JSON
// string and binary bodies base64-encoded.
func encodeBody(raw []byte, contentType string) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}

	if strings.Contains(contentType, "json") && json.Valid(raw) {
		return json.RawMessage(raw)
	}

	if utf8.Valid(raw) {
		encoded, _ := json.Marshal(string(raw))
		return encoded
	}

	encoded, _ := json.Marshal(base64.StdEncoding.EncodeToString(raw))
	return encoded
}

func (p *Pipeline) recordCapture(status string, start time.Time) {
	if p.metricsManager != nil {
		p.metricsManager.GetPrometheusMetrics().RecordCapture(status, time.Since(start))
	}
}
