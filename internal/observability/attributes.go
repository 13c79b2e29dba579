// Package observability provides metrics for the recorder service.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod     = "method"
	attrPath       = "path"
	attrStatus     = "status"
	attrDownloader = "downloader"
	attrBackend    = "backend"
	attrPhase      = "phase"
	attrVideoState = "video_status"
	attrFrom       = "from"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func downloaderAttr(name string) attribute.KeyValue {
	return attribute.String(attrDownloader, name)
}

func backendAttr(name string) attribute.KeyValue {
	return attribute.String(attrBackend, name)
}

func phaseAttr(phase string) attribute.KeyValue {
	return attribute.String(attrPhase, phase)
}

func videoStatusAttr(status string) attribute.KeyValue {
	return attribute.String(attrVideoState, status)
}

func fromAttr(status string) attribute.KeyValue {
	return attribute.String(attrFrom, status)
}

// normalizePath replaces video ids and job keywords with placeholders to
// keep label cardinality bounded.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/videos/"):
		rest := strings.TrimPrefix(path, "/v1/videos/")
		if rest == "" {
			return path
		}
		if _, sub, ok := strings.Cut(rest, "/"); ok {
			return "/v1/videos/{videoId}/" + sub
		}
		return "/v1/videos/{videoId}"
	case strings.HasPrefix(path, "/v1/jobs/") && len(path) > len("/v1/jobs/"):
		return "/v1/jobs/{keyword}"
	}
	return path
}
