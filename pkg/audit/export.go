package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
)

var (
	// ErrInvalidTimeRange is returned when start time is after end time.
	ErrInvalidTimeRange = errors.New("audit: start_time must be before end_time")
	// ErrStoreNotConfigured is returned when export is invoked without a
	// backing store.
	ErrStoreNotConfigured = errors.New("audit: store not configured (fail-closed)")
)

// ExportRequest defines what to export. An empty actor exports every
// actor's events in the window.
type ExportRequest struct {
	Actor     string    `json:"actor"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Exporter assembles evidence packs from the audit store and optionally
// uploads them to a Cloud Storage bucket.
type Exporter struct {
	store  *StoreLogger
	bucket *storage.BucketHandle
}

// NewExporter creates an exporter. bucket may be nil when packs are only
// downloaded.
func NewExporter(store *StoreLogger, bucket *storage.BucketHandle) *Exporter {
	return &Exporter{store: store, bucket: bucket}
}

// GeneratePack creates a zip containing the matching audit events and a
// manifest, returning the archive and its SHA-256 checksum.
func (e *Exporter) GeneratePack(ctx context.Context, req ExportRequest) ([]byte, string, error) {
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && req.StartTime.After(req.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}
	if e.store == nil {
		return nil, "", ErrStoreNotConfigured
	}

	events, err := e.store.Query(ctx, req.Actor, req.StartTime, req.EndTime)
	if err != nil {
		return nil, "", err
	}

	eventsJSON, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, "", err
	}

	manifest := map[string]any{
		"actor":        req.Actor,
		"generated_at": time.Now().UTC(),
		"event_count":  len(events),
		"period": map[string]any{
			"start": req.StartTime,
			"end":   req.EndTime,
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: failed to marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("events.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(eventsJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(manifestJSON)

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	hash := sha256.Sum256(zipBytes)
	return zipBytes, hex.EncodeToString(hash[:]), nil
}

// Upload writes a generated pack to the configured bucket under name and
// returns the object path.
func (e *Exporter) Upload(ctx context.Context, name string, pack []byte) (string, error) {
	if e.bucket == nil {
		return "", errors.New("audit: export bucket not configured")
	}
	obj := e.bucket.Object(name)
	wr := obj.NewWriter(ctx)
	wr.ContentType = "application/zip"
	if _, err := wr.Write(pack); err != nil {
		_ = wr.Close()
		return "", fmt.Errorf("audit: upload evidence pack: %w", err)
	}
	if err := wr.Close(); err != nil {
		return "", fmt.Errorf("audit: finalize evidence pack: %w", err)
	}
	return obj.ObjectName(), nil
}
