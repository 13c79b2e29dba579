package downloader

// Adapter names stored on videos as DownloaderName.
const (
	NameYtdlp       = "ytdlp"
	NameStreamlink  = "streamlink"
	NameFC2         = "fc2"
	NameTwitcasting = "twitcasting"
)

// ytdlp records YouTube livestreams from the start and downloads VODs from
// any site yt-dlp supports.
var ytdlp = tool{
	name:    NameYtdlp,
	sources: []string{"youtube", "generic"},
	args: func(inv invocation) []string {
		args := []string{
			"--live-from-start",
			"--wait-for-video", "60",
			"--no-part",
			"--no-progress",
			"--paths", inv.OutputDir,
			"--output", "%(id)s.%(ext)s",
		}
		if inv.CookiesPath != "" {
			args = append(args, "--cookies", inv.CookiesPath)
		}
		return append(args, inv.URL)
	},
	classification: classification{
		missing: []string{"this live event will begin", "premieres in", "video unavailable"},
		reject:  []string{"join this channel", "age-restricted", "copyright"},
	},
}

// streamlink records Twitch and other HLS livestreams. streamlink has no
// cookie file flag; the image entrypoint reads COOKIES_FILE.
var streamlink = tool{
	name:    NameStreamlink,
	sources: []string{"twitch"},
	args: func(inv invocation) []string {
		return []string{
			"--output", inv.OutputDir + "/" + inv.VideoID + ".ts",
			"--hls-live-restart",
			"--retry-open", "3",
			inv.URL, "best",
		}
	},
	classification: classification{
		missing: []string{"no playable streams found", "unable to open url"},
		reject:  []string{"subscriber-only", "geo-restricted"},
	},
}

// fc2 records FC2 Live with fc2-live-dl.
var fc2 = tool{
	name:    NameFC2,
	sources: []string{"fc2"},
	args: func(inv invocation) []string {
		args := []string{
			"--wait",
			"--output", inv.OutputDir + "/%(channel_id)s_%(date)s_%(time)s.%(ext)s",
		}
		if inv.CookiesPath != "" {
			args = append(args, "--cookies", inv.CookiesPath)
		}
		return append(args, inv.URL)
	},
	classification: classification{
		missing: []string{"stream not online", "channel not found"},
		reject:  []string{"paid program", "login_required"},
	},
}

// twitcasting records TwitCasting with twitcasting-recorder. The image is
// configured through its environment (OUTPUT_DIR, COOKIES_FILE).
var twitcasting = tool{
	name:    NameTwitcasting,
	sources: []string{"twitcasting"},
	args: func(inv invocation) []string {
		return []string{inv.URL}
	},
	classification: classification{
		missing: []string{"user is not live", "movie not found"},
		reject:  []string{"password required", "limited to group members"},
	},
}

var tools = []tool{ytdlp, streamlink, fc2, twitcasting}
