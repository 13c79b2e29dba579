package job

import (
	"strings"
	"testing"
)

func TestName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		videoID    string
		downloader string
		want       string
	}{
		{"lossless", "v123", "ytdlp", "ytdlp-v123"},
		{"lowercase id", "abc-def", "streamlink", "streamlink-abc-def"},
		{"uppercase id gets suffix", "dQw4w9WgXcQ", "ytdlp", ""},
		{"underscore id gets suffix", "abc_def", "ytdlp", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Name(tt.videoID, tt.downloader)
			if tt.want != "" && got != tt.want {
				t.Errorf("Name(%q, %q) = %q, want %q", tt.videoID, tt.downloader, got, tt.want)
			}
			if !namePattern.MatchString(got) {
				t.Errorf("Name(%q, %q) = %q is not a valid job name", tt.videoID, tt.downloader, got)
			}
			if len(got) > maxNameLength {
				t.Errorf("Name(%q, %q) length %d exceeds %d", tt.videoID, tt.downloader, len(got), maxNameLength)
			}
		})
	}
}

func TestName_Deterministic(t *testing.T) {
	t.Parallel()
	for _, id := range []string{"v123", "dQw4w9WgXcQ", strings.Repeat("x", 200), "日本語"} {
		if Name(id, "ytdlp") != Name(id, "ytdlp") {
			t.Errorf("Name(%q) is not deterministic", id)
		}
	}
}

func TestName_DistinctForCollidingSanitizedIDs(t *testing.T) {
	t.Parallel()
	pairs := [][2]string{
		{"ABC", "abc"},
		{"a_b", "a-b"},
		{"a__b", "a_b"},
		{strings.Repeat("a", 80) + "1", strings.Repeat("a", 80) + "2"},
	}
	for _, p := range pairs {
		if Name(p[0], "ytdlp") == Name(p[1], "ytdlp") {
			t.Errorf("Name(%q) and Name(%q) collide: %q", p[0], p[1], Name(p[0], "ytdlp"))
		}
	}
}

func TestName_DistinctPerDownloader(t *testing.T) {
	t.Parallel()
	if Name("v123", "ytdlp") == Name("v123", "streamlink") {
		t.Error("Expected different names for different downloaders")
	}
}

func TestName_Empty(t *testing.T) {
	t.Parallel()
	got := Name("___", "")
	if !strings.HasPrefix(got, "job-") {
		t.Errorf("Expected job- prefix for unusable input, got %q", got)
	}
	if !namePattern.MatchString(got) {
		t.Errorf("Name = %q is not a valid job name", got)
	}
}

func TestSanitize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"abc", "abc"},
		{"ABC", "abc"},
		{"a_b", "a-b"},
		{"a__b", "a-b"},
		{"-a-", "a"},
		{"__", ""},
		{"a.b/c", "a-b-c"},
	}
	for _, tt := range tests {
		if got := sanitize(tt.in); got != tt.want {
			t.Errorf("sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
