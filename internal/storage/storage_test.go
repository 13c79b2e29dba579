package storage

import (
	"errors"
	"recorder/internal/apperrors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLocal_Env(t *testing.T) {
	t.Parallel()
	l, err := NewLocal(LocalConfig{Path: "/archive"})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{EnvKind: "local", EnvTarget: "/archive/v123"}
	if diff := cmp.Diff(want, l.Env("v123")); diff != "" {
		t.Errorf("Env mismatch (-want +got):\n%s", diff)
	}

	if _, err := NewLocal(LocalConfig{Path: "archive"}); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected ErrValidation for relative path, got %v", err)
	}
}

func TestS3_Env(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  S3Config
		want map[string]string
	}{
		{
			name: "with prefix",
			cfg:  S3Config{Bucket: "vods", Prefix: "/recordings/", Region: "eu-west-1"},
			want: map[string]string{EnvKind: "s3", EnvTarget: "s3://vods/recordings/v123", EnvRegion: "eu-west-1"},
		},
		{
			name: "compatible endpoint without prefix",
			cfg:  S3Config{Bucket: "vods", Region: "auto", Endpoint: "https://r2.example.com"},
			want: map[string]string{EnvKind: "s3", EnvTarget: "s3://vods/v123", EnvRegion: "auto", EnvURL: "https://r2.example.com"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := NewS3(tt.cfg)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, s.Env("v123")); diff != "" {
				t.Errorf("Env mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := NewS3(S3Config{}); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected ErrValidation without bucket, got %v", err)
	}
}
