package job

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// maxNameLength fits DNS-1123 labels, the strictest rule among the backends.
const maxNameLength = 63

// Name derives the job name for a video. It is a pure function of the video
// id and the downloader name so that polling can be resumed by any process.
//
// The result is lowercase and limited to [a-z0-9-]. When sanitizing or
// truncation changed the id, a hash of the original pair is appended so two
// ids that sanitize to the same string still get distinct names.
func Name(videoID, downloader string) string {
	prefix := sanitize(downloader)
	id := sanitize(videoID)

	lossless := id == videoID && prefix == downloader
	base := prefix + "-" + id
	if prefix == "" {
		base = id
	}

	if lossless && len(base) <= maxNameLength && base != "" {
		return base
	}

	h := fnv.New32a()
	h.Write([]byte(downloader))
	h.Write([]byte{0})
	h.Write([]byte(videoID))
	suffix := fmt.Sprintf("%08x", h.Sum32())

	room := maxNameLength - len(suffix) - 1
	if len(base) > room {
		base = strings.TrimRight(base[:room], "-")
	}
	if base == "" {
		return "job-" + suffix
	}
	return base + "-" + suffix
}

// sanitize lowercases s, replaces runs of disallowed characters with a
// single hyphen and trims hyphens from both ends.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastHyphen := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
