package mirror

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/explosion/wheelwright/src/artifact"
	"github.com/explosion/wheelwright/src/config"
	"github.com/explosion/wheelwright/src/provider"
)

type putCall struct {
	bucket string
	key    string
	body   string
	size   int64
	ctype  string
	sha    string
}

type fakeObjects struct {
	calls []putCall
	fail  map[string]bool
}

func (f *fakeObjects) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	if f.fail[key] {
		return nil, errors.New("access denied")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.calls = append(f.calls, putCall{
		bucket: aws.ToString(in.Bucket),
		key:    key,
		body:   string(data),
		size:   aws.ToInt64(in.ContentLength),
		ctype:  aws.ToString(in.ContentType),
		sha:    in.Metadata["sha256"],
	})
	return &s3.PutObjectOutput{}, nil
}

func writeWheel(t *testing.T, dir, name, content string) artifact.Asset {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return artifact.Asset{Name: name, Path: p}
}

func TestS3Mirror_Key(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "", want: "r1/a.whl"},
		{prefix: "wheels", want: "wheels/r1/a.whl"},
		{prefix: "/wheels/nightly/", want: "wheels/nightly/r1/a.whl"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			m := NewWithAPI(&fakeObjects{}, "bucket", tt.prefix, nil)
			if got := m.Key("r1", "a.whl"); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestS3Mirror_MirrorAssets(t *testing.T) {
	dir := t.TempDir()
	assets := []artifact.Asset{
		writeWheel(t, dir, "cymem-2.0-cp38-win_amd64.whl", "wheel-bytes"),
		{Name: "not-downloaded.whl"},
		writeWheel(t, dir, "cymem-2.0.tar.gz", "sdist"),
	}

	api := &fakeObjects{}
	m := NewWithAPI(api, "wheels", "builds", nil)
	if err := m.MirrorAssets(context.Background(), "cymem-abc123", assets); err != nil {
		t.Fatalf("MirrorAssets() error = %v", err)
	}

	if len(api.calls) != 2 {
		t.Fatalf("PutObject called %d times, want 2", len(api.calls))
	}
	first := api.calls[0]
	sum := sha256.Sum256([]byte("wheel-bytes"))
	if first.bucket != "wheels" || first.key != "builds/cymem-abc123/cymem-2.0-cp38-win_amd64.whl" {
		t.Errorf("put = %s/%s", first.bucket, first.key)
	}
	if first.body != "wheel-bytes" || first.size != int64(len("wheel-bytes")) {
		t.Errorf("body = %q (%d bytes)", first.body, first.size)
	}
	if first.sha != hex.EncodeToString(sum[:]) {
		t.Errorf("sha256 metadata = %s", first.sha)
	}
	if first.ctype != "application/zip" || api.calls[1].ctype != "application/gzip" {
		t.Errorf("content types = %s, %s", first.ctype, api.calls[1].ctype)
	}
}

func TestS3Mirror_MirrorAssets_Failures(t *testing.T) {
	dir := t.TempDir()
	assets := []artifact.Asset{
		writeWheel(t, dir, "a.whl", "a"),
		writeWheel(t, dir, "b.whl", "b"),
		{Name: "gone.whl", Path: filepath.Join(dir, "gone.whl")},
	}

	api := &fakeObjects{fail: map[string]bool{"r1/a.whl": true}}
	err := NewWithAPI(api, "wheels", "", nil).MirrorAssets(context.Background(), "r1", assets)
	if err == nil {
		t.Fatal("MirrorAssets() expected error")
	}
	for _, want := range []string{"mirror a.whl", "mirror gone.whl"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
	if len(api.calls) != 1 || api.calls[0].key != "r1/b.whl" {
		t.Errorf("calls = %+v, want only b.whl", api.calls)
	}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		in         string
		disableTLS bool
		want       string
	}{
		{in: "", want: ""},
		{in: "localhost:8333", want: "https://localhost:8333"},
		{in: "localhost:8333", disableTLS: true, want: "http://localhost:8333"},
		{in: "http://minio:9000", want: "http://minio:9000"},
	}

	for _, tt := range tests {
		if got := Endpoint(tt.in, tt.disableTLS); got != tt.want {
			t.Errorf("Endpoint(%q, %v) = %q, want %q", tt.in, tt.disableTLS, got, tt.want)
		}
	}
}

func TestNew_Config(t *testing.T) {
	if _, err := New(context.Background(), config.S3Config{}, nil); !errors.Is(err, provider.ErrConfig) {
		t.Errorf("New() without bucket error = %v, want ErrConfig", err)
	}
	if _, err := New(context.Background(), config.S3Config{Bucket: "b", AccessKey: "only-half"}, nil); !errors.Is(err, provider.ErrConfig) {
		t.Errorf("New() with half credentials error = %v, want ErrConfig", err)
	}

	m, err := New(context.Background(), config.S3Config{
		Bucket: "b", Prefix: "p", Endpoint: "localhost:8333", AccessKey: "k", SecretKey: "s", DisableTLS: true, ForcePathStyle: true,
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if m.Key("r", "x.whl") != "p/r/x.whl" {
		t.Errorf("Key() = %s", m.Key("r", "x.whl"))
	}
}
