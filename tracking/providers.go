package tracking

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"k8s.io/klog/v2"
)

// DatasetProvider turns a dataset identifier and version into a local
// directory holding the dataset's files.
type DatasetProvider interface {
	Resolve(ctx context.Context, id, version string) (string, error)
}

// DatasetResolutionError reports a dataset that could not be made available locally
type DatasetResolutionError struct {
	ID      string
	Version string
	Err     error
}

func (e *DatasetResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve dataset %s:%s: %v", e.ID, e.Version, e.Err)
}

func (e *DatasetResolutionError) Unwrap() error {
	return e.Err
}

// imagesDir is the subfolder a resolved dataset directory must contain
const imagesDir = "images"

// LocalProvider finds datasets under a root directory. It tries
// Root/<id>/<version>, then Root/<id>, then Root itself, and returns the first
// one that contains an images folder.
type LocalProvider struct {
	Root string
}

func (p LocalProvider) Resolve(ctx context.Context, id, version string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &DatasetResolutionError{ID: id, Version: version, Err: err}
	}

	candidates := []string{
		filepath.Join(p.Root, id, version),
		filepath.Join(p.Root, id),
		p.Root,
	}
	for _, dir := range candidates {
		info, err := os.Stat(filepath.Join(dir, imagesDir))
		if err == nil && info.IsDir() {
			klog.V(1).Infof("Dataset %s:%s resolved to %s", id, version, dir)
			return dir, nil
		}
	}

	return "", &DatasetResolutionError{
		ID:      id,
		Version: version,
		Err:     fmt.Errorf("no %s directory under any of %s", imagesDir, strings.Join(candidates, ", ")),
	}
}

// S3Provider mirrors s3://Bucket/Prefix/<id>/<version>/ into CacheDir/<id>/<version>.
// Objects already present locally with the same size are not downloaded again.
type S3Provider struct {
	Client   s3iface.S3API
	Bucket   string
	Prefix   string
	CacheDir string
}

// NewS3Provider creates a provider backed by a new AWS session for region
func NewS3Provider(region, bucket, prefix, cacheDir string) (*S3Provider, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &S3Provider{
		Client:   s3.New(sess),
		Bucket:   bucket,
		Prefix:   prefix,
		CacheDir: cacheDir,
	}, nil
}

func (p *S3Provider) Resolve(ctx context.Context, id, version string) (string, error) {
	fail := func(err error) (string, error) {
		return "", &DatasetResolutionError{ID: id, Version: version, Err: err}
	}

	prefix := path.Join(p.Prefix, id, version) + "/"
	var objects []*s3.Object
	err := p.Client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.Bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		objects = append(objects, page.Contents...)
		return true
	})
	if err != nil {
		return fail(fmt.Errorf("failed to list s3://%s/%s: %w", p.Bucket, prefix, err))
	}
	if len(objects) == 0 {
		return fail(fmt.Errorf("no objects under s3://%s/%s", p.Bucket, prefix))
	}

	dest := filepath.Join(p.CacheDir, id, version)
	downloaded := 0
	for _, obj := range objects {
		key := aws.StringValue(obj.Key)
		rel := strings.TrimPrefix(key, prefix)
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		local := filepath.Join(dest, filepath.FromSlash(rel))
		if !strings.HasPrefix(local, dest+string(filepath.Separator)) {
			return fail(fmt.Errorf("object key %q escapes the cache directory", key))
		}

		if info, err := os.Stat(local); err == nil && info.Size() == aws.Int64Value(obj.Size) {
			continue
		}
		if err := p.download(ctx, key, local); err != nil {
			return fail(err)
		}
		downloaded++
	}

	klog.V(1).Infof("Dataset %s:%s synced from s3://%s/%s to %s (%d of %d objects downloaded)",
		id, version, p.Bucket, prefix, dest, downloaded, len(objects))
	return dest, nil
}

// download writes one object to local through a temporary file
func (p *S3Provider) download(ctx context.Context, key, local string) error {
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return err
	}

	out, err := p.Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to get s3://%s/%s: %w", p.Bucket, key, err)
	}
	defer out.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(local), ".download-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to download %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), local)
}
