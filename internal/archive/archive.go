// Package archive keeps crawl artifacts: blocked page snapshots on disk and,
// optionally, copies of snapshots and validated files in object storage.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/maltedev/price-crawler/internal/config"
)

const snapshotStamp = "20060102_150405"

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SafeName turns a URL into a file name fragment of at most 50 characters.
func SafeName(url string) string {
	s := unsafeChars.ReplaceAllString(url, "_")
	if len(s) > 50 {
		s = s[:50]
	}
	return s
}

// Local writes blocked page snapshots under one directory.
type Local struct {
	dir string
	now func() time.Time
}

func NewLocal(dir string) *Local {
	return &Local{dir: dir, now: time.Now}
}

// SaveBlockedPage writes blocked_<ts>_idx<N>_<url>.html and returns its path.
func (l *Local) SaveBlockedPage(_ context.Context, absIndex int, url, html string) (string, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", l.dir, err)
	}
	name := fmt.Sprintf("blocked_%s_idx%d_%s.html", l.now().Format(snapshotStamp), absIndex, SafeName(url))
	p := filepath.Join(l.dir, name)
	if err := os.WriteFile(p, []byte(html), 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return p, nil
}

// ObjectPutter is the part of the MinIO client the archive needs.
type ObjectPutter interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Remote uploads files to a bucket under prefix/<date>/.
type Remote struct {
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
}

func NewRemote(client ObjectPutter, bucket, prefix string) *Remote {
	return &Remote{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// Dial connects to MinIO and makes sure the bucket exists.
func Dial(ctx context.Context, cfg config.ArchiveConfig) (*Remote, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	r := NewRemote(client, cfg.Bucket, cfg.Prefix)
	if err := r.InitBucket(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// InitBucket ensures the bucket exists and creates it if necessary.
func (r *Remote) InitBucket(ctx context.Context) error {
	exists, err := r.client.BucketExists(ctx, r.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := r.client.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (r *Remote) Key(localPath string) string {
	return path.Join(r.prefix, r.now().Format("2006-01-02"), filepath.Base(localPath))
}

// UploadFile uploads localPath and returns the object location.
func (r *Remote) UploadFile(ctx context.Context, localPath string) (string, error) {
	key := r.Key(localPath)
	info, err := r.client.FPutObject(ctx, r.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType(localPath),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", localPath, err)
	}
	return fmt.Sprintf("%s/%s", r.bucket, info.Key), nil
}

func contentType(p string) string {
	switch filepath.Ext(p) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// Archiver always keeps snapshots locally and mirrors them, and validated
// files, to the remote store when one is configured.
type Archiver struct {
	local  *Local
	remote *Remote
	logger *slog.Logger
}

func New(local *Local, remote *Remote, logger *slog.Logger) *Archiver {
	return &Archiver{local: local, remote: remote, logger: logger.With("component", "archive")}
}

func (a *Archiver) SaveBlockedPage(ctx context.Context, absIndex int, url, html string) (string, error) {
	p, err := a.local.SaveBlockedPage(ctx, absIndex, url, html)
	if err != nil {
		return "", err
	}
	if a.remote != nil {
		if location, err := a.remote.UploadFile(ctx, p); err != nil {
			a.logger.Warn("failed to upload snapshot", "path", p, "error", err)
		} else {
			a.logger.Debug("snapshot uploaded", "location", location)
		}
	}
	return p, nil
}

// UploadFile mirrors a finished file. Without a remote store it is a no-op
// that returns the local path.
func (a *Archiver) UploadFile(ctx context.Context, localPath string) (string, error) {
	if a.remote == nil {
		return localPath, nil
	}
	return a.remote.UploadFile(ctx, localPath)
}
