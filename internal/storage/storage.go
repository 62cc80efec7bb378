// Package storage moves source and rendered clips between the worker's temp
// directory and the S3-compatible object store.
package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Prefix string

const (
	PrefixVideos Prefix = "videos"
	PrefixTemp   Prefix = "temp"
)

var ErrNotObjectURL = errors.New("not an object storage URL")

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	// PublicBaseURL, when set, is used to build browser-facing URLs.
	PublicBaseURL string
}

type Storage struct {
	client     *miniogo.Client
	bucket     string
	region     string
	publicBase string
	http       *http.Client
}

func New(cfg Config) (*Storage, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Storage{
		client:     client,
		bucket:     cfg.Bucket,
		region:     cfg.Region,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
		http:       &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, miniogo.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Download fetches an object by key into destPath.
func (s *Storage) Download(ctx context.Context, key, destPath string) error {
	if err := s.client.FGetObject(ctx, s.bucket, key, destPath, miniogo.GetObjectOptions{}); err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	return nil
}

// FetchToFile downloads rawURL into dst. Object storage URLs go through the
// S3 client; anything else is fetched over plain HTTP.
func (s *Storage) FetchToFile(ctx context.Context, rawURL, dst string) error {
	if key, err := KeyFromURL(rawURL); err == nil {
		return s.Download(ctx, key, dst)
	}
	if s.publicBase != "" && strings.HasPrefix(rawURL, s.publicBase+"/") {
		return s.Download(ctx, strings.TrimPrefix(rawURL, s.publicBase+"/"), dst)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", dst, err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return f.Close()
}

// Upload stores the local file under a fresh key and returns that key.
func (s *Storage) Upload(ctx context.Context, prefix Prefix, localPath, contentType string) (string, error) {
	key := NewObjectKey(prefix, path.Base(localPath), time.Now())
	_, err := s.client.FPutObject(ctx, s.bucket, key, localPath, miniogo.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

// URLFor returns the durable URL recorded on the video row for key.
func (s *Storage) URLFor(key string) string {
	if s.publicBase != "" {
		return s.publicBase + "/" + key
	}
	return "s3://" + s.bucket + "/" + key
}

// Presign returns a time-limited GET URL for key.
func (s *Storage) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// NewObjectKey builds {prefix}/{unixMillis}-{random}-{basename}.{ext}.
func NewObjectKey(prefix Prefix, filename string, now time.Time) string {
	ext := path.Ext(filename)
	base := strings.TrimSuffix(path.Base(filename), ext)
	base = strings.Trim(unsafeKeyChars.ReplaceAllString(base, "-"), "-")
	if base == "" {
		base = "file"
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		ext = "bin"
	}

	var rnd [4]byte
	_, _ = rand.Read(rnd[:])
	return fmt.Sprintf("%s/%s-%s-%s.%s", prefix, strconv.FormatInt(now.UnixMilli(), 10), hex.EncodeToString(rnd[:]), base, ext)
}

// KeyFromURL reduces s3://bucket/key and https://...amazonaws.com/key URLs
// to the bare object key.
func KeyFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotObjectURL, err)
	}

	switch {
	case u.Scheme == "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return "", ErrNotObjectURL
		}
		return key, nil

	case (u.Scheme == "https" || u.Scheme == "http") && strings.HasSuffix(u.Hostname(), ".amazonaws.com"):
		p := strings.TrimPrefix(u.EscapedPath(), "/")
		host := u.Hostname()
		// path-style: s3.<region>.amazonaws.com/<bucket>/<key>
		if strings.HasPrefix(host, "s3.") || strings.HasPrefix(host, "s3-") {
			_, key, ok := strings.Cut(p, "/")
			if !ok || key == "" {
				return "", ErrNotObjectURL
			}
			return unescape(key)
		}
		if p == "" {
			return "", ErrNotObjectURL
		}
		return unescape(p)
	}
	return "", ErrNotObjectURL
}

func unescape(key string) (string, error) {
	k, err := url.PathUnescape(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotObjectURL, err)
	}
	return k, nil
}
