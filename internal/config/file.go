package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadFiles populates the environment from optional files. Variables that
// are already set always win.
//
// envFile is a dotenv file; a missing file is ignored. yamlFile is a YAML
// document whose nested keys are flattened into environment names:
//
//	backends:
//	  compute: Docker      -> BACKENDS_COMPUTE=Docker
//	downloader:
//	  ytdlp:
//	    image: ytdlp:1.0   -> DOWNLOADER_YTDLP_IMAGE=ytdlp:1.0
//	ids: [a, b]            -> IDS=a,b
func LoadFiles(envFile, yamlFile string) error {
	if envFile != "" {
		// godotenv.Load never overrides variables that are already set.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if yamlFile == "" {
		return nil
	}

	data, err := os.ReadFile(yamlFile)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	values, err := FlattenYAML(data)
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", yamlFile, err)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, set := os.LookupEnv(k); set {
			continue
		}
		if err := os.Setenv(k, values[k]); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	slog.Info("Loaded config file", "path", yamlFile, "keys", len(keys))
	return nil
}

// FlattenYAML turns a YAML mapping into environment-style key/value pairs.
func FlattenYAML(data []byte) (map[string]string, error) {
	var root map[string]any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	flatten("", root, out)
	return out, nil
}

func flatten(prefix string, node any, out map[string]string) {
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			flatten(joinKey(prefix, k), child, out)
		}
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, scalar(item))
		}
		out[prefix] = strings.Join(items, ",")
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = scalar(v)
	}
}

func joinKey(prefix, key string) string {
	key = strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
	if prefix == "" {
		return key
	}
	return prefix + "_" + key
}

func scalar(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case int:
		return strconv.Itoa(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}
