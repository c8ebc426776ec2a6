package importer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Mirror downloads simulation outputs from an S3 bucket into the local data
// root, so the scanner can treat remote exports like local folders. Objects
// already present locally with a matching size are skipped.
type Mirror struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// MirrorStats summarizes one sync pass.
type MirrorStats struct {
	Listed     int `json:"listed"`
	Downloaded int `json:"downloaded"`
	Skipped    int `json:"skipped"`
}

// NewMirror creates a mirror for one bucket. The prefix is normalized to end
// with a slash so object keys map cleanly onto local paths.
func NewMirror(ctx context.Context, bucket, prefix, region string, logger *zap.Logger) (*Mirror, error) {
	if bucket == "" {
		return nil, fmt.Errorf("mirror bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Mirror{
		client: s3.NewFromConfig(awsCfg),
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Sync lists every object under the prefix and downloads the ones missing
// locally or whose size differs. Keys that would escape localRoot are skipped.
func (m *Mirror) Sync(ctx context.Context, localRoot string) (*MirrorStats, error) {
	stats := &MirrorStats{}
	paginator := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(m.prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return stats, fmt.Errorf("list bucket %s: %w", m.bucket, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(key, m.prefix)
			if rel == "" || strings.HasSuffix(rel, "/") {
				continue
			}
			stats.Listed++

			local := filepath.Join(localRoot, filepath.FromSlash(rel))
			if !strings.HasPrefix(local, filepath.Clean(localRoot)+string(filepath.Separator)) {
				m.logger.Warn("skipping object outside data root", zap.String("key", key))
				continue
			}

			if info, err := os.Stat(local); err == nil && info.Size() == aws.ToInt64(obj.Size) {
				stats.Skipped++
				continue
			}

			if err := m.download(ctx, key, local); err != nil {
				return stats, err
			}
			stats.Downloaded++
		}
	}

	m.logger.Info("mirror sync finished",
		zap.String("bucket", m.bucket),
		zap.Int("listed", stats.Listed),
		zap.Int("downloaded", stats.Downloaded),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

func (m *Mirror) download(ctx context.Context, key, local string) error {
	resp, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get object %s: %w", key, err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("create local folder: %w", err)
	}
	tmp := local + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("download %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close local file: %w", err)
	}
	return os.Rename(tmp, local)
}
