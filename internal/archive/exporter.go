// Package archive exports finished crawl jobs to S3-compatible object
// storage as CSV snapshots. SQLite stays the source of truth; the archive
// is a cold copy for offline analysis.
package archive

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/dormitricity/orchestrator/internal/retry"
	"github.com/dormitricity/orchestrator/internal/storage"
	"github.com/dormitricity/orchestrator/pkg/types"
)

var uploadRetry = retry.Config{
	MaxAttempts: 3,
	Delays:      []time.Duration{2 * time.Second, 5 * time.Second},
}

// Exporter uploads job snapshots to one bucket.
type Exporter struct {
	client *minio.Client
	store  *storage.Store
	bucket string
}

// NewExporter creates an Exporter against an S3-compatible endpoint.
func NewExporter(endpoint, accessKey, secretKey, bucket string, store *storage.Store) (*Exporter, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid archive endpoint '%s': %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid archive endpoint scheme '%s': must be http or https", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid archive endpoint '%s': missing hostname", endpoint)
	}

	client, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive client for %s: %w", u.Host, err)
	}

	return &Exporter{client: client, store: store, bucket: bucket}, nil
}

// ExportJob snapshots every reading ingested during the job's lifetime and
// uploads it as readings/<job-id>.csv. Called after a job reaches a
// terminal status; failures are logged by the caller and never affect the
// ingestion path.
func (e *Exporter) ExportJob(ctx context.Context, job *storage.JobRecord) error {
	readings, err := e.store.ReadingsSince(ctx, job.CreatedTS)
	if err != nil {
		return fmt.Errorf("failed to load readings for job %s: %w", job.ID, err)
	}

	data, err := buildCSV(readings)
	if err != nil {
		return fmt.Errorf("failed to build CSV for job %s: %w", job.ID, err)
	}

	object := fmt.Sprintf("readings/%s.csv", job.ID)
	err = retry.WithRetry(ctx, uploadRetry, func() error {
		_, err := e.client.PutObject(ctx, e.bucket, object,
			bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: "text/csv"})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", object, err)
	}

	logrus.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"object":   object,
		"readings": len(readings),
	}).Info("Archived job snapshot")
	return nil
}

// buildCSV renders readings with a header row. Timestamps stay as unix
// seconds; RFC 3339 is added as a convenience column.
func buildCSV(readings []types.Reading) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"hashed_dir", "ts", "time_utc", "kwh"}); err != nil {
		return nil, err
	}
	for _, r := range readings {
		row := []string{
			r.HashedDir,
			strconv.FormatInt(r.TS, 10),
			time.Unix(r.TS, 0).UTC().Format(time.RFC3339),
			strconv.FormatFloat(r.KWH, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
