package daemonrun

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"courier/internal/config"
	"courier/internal/testsupport"
)

func TestBuildForwarderNone(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	forwarder, presigner, err := buildForwarder(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("buildForwarder: %v", err)
	}
	if forwarder != nil || presigner != nil {
		t.Fatalf("expected no forwarder, got %v %v", forwarder, presigner)
	}
}

func TestBuildForwarderS3ProvidesPresigner(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConfig(func(c *config.Config) {
		c.Forward.Kind = config.ForwardKindS3
		c.Forward.S3 = config.ForwardS3{
			Endpoint:       "127.0.0.1:8333",
			Bucket:         "archive",
			AccessKey:      "key",
			SecretKey:      "secret",
			ForcePathStyle: true,
		}
	}))
	forwarder, presigner, err := buildForwarder(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("buildForwarder: %v", err)
	}
	if forwarder == nil || presigner == nil {
		t.Fatal("expected s3 forwarder and presigner")
	}
	if got := presigner.Key(5, "a.bin"); got != "5/a.bin" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courier.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("unexpected pid file %q", data)
	}
	if err := writePIDFile(""); err != nil {
		t.Fatalf("empty path should be ignored: %v", err)
	}
}
