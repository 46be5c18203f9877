package tracking

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

func TestLocalProvider(t *testing.T) {
	root := t.TempDir()

	t.Run("VersionedDirectory", func(t *testing.T) {
		want := filepath.Join(root, "PETS", "v3")
		if err := os.MkdirAll(filepath.Join(want, "images"), 0755); err != nil {
			t.Fatal(err)
		}
		got, err := LocalProvider{Root: root}.Resolve(context.Background(), "PETS", "v3")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	})

	t.Run("FallsBackToRoot", func(t *testing.T) {
		flat := t.TempDir()
		if err := os.MkdirAll(filepath.Join(flat, "images"), 0755); err != nil {
			t.Fatal(err)
		}
		got, err := LocalProvider{Root: flat}.Resolve(context.Background(), "PETS", "v9")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got != flat {
			t.Errorf("Expected %s, got %s", flat, got)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := LocalProvider{Root: filepath.Join(root, "nowhere")}.Resolve(context.Background(), "PETS", "v3")
		var dre *DatasetResolutionError
		if !errors.As(err, &dre) {
			t.Fatalf("Expected DatasetResolutionError, got %v", err)
		}
		if dre.ID != "PETS" || dre.Version != "v3" {
			t.Errorf("Expected the error to name PETS:v3, got %s:%s", dre.ID, dre.Version)
		}
	})
}

// fakeS3 serves objects from memory
type fakeS3 struct {
	s3iface.S3API
	objects map[string][]byte
	gets    int
	listErr error
}

func (f *fakeS3) ListObjectsV2PagesWithContext(ctx aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, opts ...request.Option) error {
	if f.listErr != nil {
		return f.listErr
	}
	var contents []*s3.Object
	for key, data := range f.objects {
		if strings.HasPrefix(key, aws.StringValue(in.Prefix)) {
			contents = append(contents, &s3.Object{Key: aws.String(key), Size: aws.Int64(int64(len(data)))})
		}
	}
	// Two pages to exercise pagination.
	half := len(contents) / 2
	if fn(&s3.ListObjectsV2Output{Contents: contents[:half]}, false) {
		fn(&s3.ListObjectsV2Output{Contents: contents[half:]}, true)
	}
	return nil
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	f.gets++
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Provider(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{
		"datasets/PETS/v3/images/beagle_1.jpg": []byte("jpeg-1"),
		"datasets/PETS/v3/images/pug_7.jpg":    []byte("jpeg-22"),
		"datasets/PETS/v3/images/":             nil,
		"datasets/PETS/v2/images/pug_1.jpg":    []byte("old"),
	}}
	cache := t.TempDir()
	p := &S3Provider{Client: fake, Bucket: "bench", Prefix: "datasets", CacheDir: cache}

	dir, err := p.Resolve(context.Background(), "PETS", "v3")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if dir != filepath.Join(cache, "PETS", "v3") {
		t.Errorf("Unexpected cache directory %s", dir)
	}

	data, err := os.ReadFile(filepath.Join(dir, "images", "pug_7.jpg"))
	if err != nil || string(data) != "jpeg-22" {
		t.Errorf("Expected downloaded object contents, got %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "images", "pug_1.jpg")); err == nil {
		t.Error("Objects of other versions must not be downloaded")
	}
	if fake.gets != 2 {
		t.Errorf("Expected 2 downloads, got %d", fake.gets)
	}

	// A second resolve finds everything cached.
	if _, err := p.Resolve(context.Background(), "PETS", "v3"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if fake.gets != 2 {
		t.Errorf("Expected cached objects to be reused, got %d downloads", fake.gets)
	}
}

func TestS3ProviderErrors(t *testing.T) {
	var dre *DatasetResolutionError

	empty := &S3Provider{Client: &fakeS3{objects: map[string][]byte{}}, Bucket: "bench", CacheDir: t.TempDir()}
	if _, err := empty.Resolve(context.Background(), "PETS", "v3"); !errors.As(err, &dre) {
		t.Errorf("Expected DatasetResolutionError for a missing prefix, got %v", err)
	}

	boom := errors.New("access denied")
	denied := &S3Provider{Client: &fakeS3{listErr: boom}, Bucket: "bench", CacheDir: t.TempDir()}
	_, err := denied.Resolve(context.Background(), "PETS", "v3")
	if !errors.As(err, &dre) || !errors.Is(err, boom) {
		t.Errorf("Expected a DatasetResolutionError wrapping the list error, got %v", err)
	}

	escape := &S3Provider{Client: &fakeS3{objects: map[string][]byte{"PETS/v3/../../evil": []byte("x")}}, Bucket: "bench", CacheDir: t.TempDir()}
	if _, err := escape.Resolve(context.Background(), "PETS", "v3"); !errors.As(err, &dre) {
		t.Errorf("Expected keys escaping the cache to be rejected, got %v", err)
	}
}
