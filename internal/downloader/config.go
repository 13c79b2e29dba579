package downloader

import (
	"recorder/internal/config"
	"strings"
	"time"
)

// Default images per adapter. Overridden with DOWNLOADER_<NAME>_IMAGE.
var defaultImages = map[string]string{
	NameYtdlp:       "ghcr.io/jauderho/yt-dlp:latest",
	NameStreamlink:  "ghcr.io/streamlink/streamlink:latest",
	NameFC2:         "ghcr.io/holoarchivists/fc2-live-dl:latest",
	NameTwitcasting: "ghcr.io/prinsss/twitcasting-recorder:latest",
}

// Config holds configuration shared by all downloader adapters.
type Config struct {
	Images map[string]string // adapter name -> container image

	CPU     float64 // cores per job
	Memory  int     // MB per job
	Timeout time.Duration

	// Paths inside the shared volume as seen from the job container.
	MountPath  string
	OutputDir  string
	CookiesDir string
}

// LoadConfigFromEnv loads downloader configuration from environment variables.
func LoadConfigFromEnv(rc *config.RecorderConfig) Config {
	images := make(map[string]string, len(defaultImages))
	for name, image := range defaultImages {
		images[name] = config.GetEnv("DOWNLOADER_"+strings.ToUpper(name)+"_IMAGE", image)
	}
	return Config{
		Images:     images,
		CPU:        config.GetFloatEnv("JOB_CPU", 1),
		Memory:     config.GetIntEnv("JOB_MEMORY_MB", 1024),
		Timeout:    config.GetDurationEnv("JOB_TIMEOUT", 24*time.Hour),
		MountPath:  rc.MountPath,
		OutputDir:  rc.OutputDir,
		CookiesDir: rc.CookiesDir,
	}
}

func (c Config) image(name string) string {
	if image := c.Images[name]; image != "" {
		return image
	}
	return defaultImages[name]
}
