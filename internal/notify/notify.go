// Package notify publishes video lifecycle events as CloudEvents to a
// webhook through the async dispatcher.
package notify

import (
	"context"
	"log/slog"
	"recorder/internal/config"
	"recorder/internal/dispatcher"
	"recorder/internal/video"
	"recorder/pkg/cloudevent"
	"slices"
	"strings"
	"time"
)

// Event types.
const (
	TypeVideoPrefix = "recorder.video."
	TypeJobMissing  = "recorder.job.missing"
)

// VideoType returns the event type for a video entering status s, e.g.
// "recorder.video.recording".
func VideoType(s video.Status) string {
	return TypeVideoPrefix + strings.ToLower(string(s))
}

// Config holds notification settings.
type Config struct {
	WebhookURL string
	Source     string
	SigningKey string
	Events     []string // event types or bare statuses; empty sends all
}

// ConfigFromRecorder derives notification settings from the recorder
// configuration. The signing key is read from NOTIFY_SIGNING_KEY_FILE.
func ConfigFromRecorder(rc *config.RecorderConfig) Config {
	return Config{
		WebhookURL: rc.NotifyWebhookURL,
		Source:     rc.NotifySource,
		SigningKey: config.GetSecretFile(config.GetEnv("NOTIFY_SIGNING_KEY_FILE", "")),
		Events:     rc.NotifyEvents,
	}
}

// Notifier turns lifecycle changes into events. A Notifier without a
// webhook URL drops everything.
type Notifier struct {
	cfg        Config
	dispatcher dispatcher.Dispatcher
	logger     *slog.Logger
}

// New creates a Notifier delivering through d.
func New(cfg Config, d dispatcher.Dispatcher) *Notifier {
	if cfg.Source == "" {
		cfg.Source = "recorder-service"
	}
	return &Notifier{cfg: cfg, dispatcher: d, logger: slog.With("component", "notify")}
}

// Enabled reports whether events are sent at all.
func (n *Notifier) Enabled() bool {
	return n != nil && n.cfg.WebhookURL != "" && n.dispatcher != nil
}

// wanted applies the NOTIFY_EVENTS filter. Entries match the full type or
// its last segment, case-insensitively.
func (n *Notifier) wanted(eventType string) bool {
	if len(n.cfg.Events) == 0 {
		return true
	}
	short := eventType[strings.LastIndex(eventType, ".")+1:]
	return slices.ContainsFunc(n.cfg.Events, func(e string) bool {
		return strings.EqualFold(e, eventType) || strings.EqualFold(e, short)
	})
}

// VideoTransitioned publishes the status v just entered.
func (n *Notifier) VideoTransitioned(ctx context.Context, v *video.Video, from video.Status) {
	data := map[string]any{
		"videoId":   v.ID,
		"url":       v.URL,
		"source":    v.Source,
		"status":    string(v.Status),
		"from":      string(from),
		"updatedAt": v.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if v.Downloader != "" {
		data["downloader"] = v.Downloader
	}
	if v.Note != "" {
		data["note"] = v.Note
	}
	n.publish(VideoType(v.Status), v.ID, data)
}

// JobMissing publishes that the job of an in-job video no longer exists.
func (n *Notifier) JobMissing(ctx context.Context, v *video.Video, jobName string) {
	n.publish(TypeJobMissing, v.ID, map[string]any{
		"videoId": v.ID,
		"job":     jobName,
		"status":  string(v.Status),
	})
}

func (n *Notifier) publish(eventType, subject string, data map[string]any) {
	if !n.Enabled() || !n.wanted(eventType) {
		return
	}
	err := n.dispatcher.Dispatch(&dispatcher.Event{
		Payload:     cloudevent.New(eventType, n.cfg.Source, subject, data),
		Destination: n.cfg.WebhookURL,
		SigningKey:  n.cfg.SigningKey,
	})
	if err != nil {
		n.logger.Warn("Notification not queued", "type", eventType, "videoId", subject, "error", err)
	}
}
