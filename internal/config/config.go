package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultNegativePrompt is the negative prompt offered when the caller gives none.
const DefaultNegativePrompt = "mutation, deformed, disfigured, extra limbs, blurry, bad anatomy, text, low quality, " +
	"deformed iris, duplicate, morbid, mutilated, poorly drawn hand, poorly drawn face, bad proportions, " +
	"gross proportions, cloned face, long neck, malformed limbs, missing arm, missing leg, extra arm, extra leg, " +
	"fused fingers, too many fingers, extra fingers, mutated hands, out of frame, contortionist, contorted limbs, " +
	"exaggerated features, disproportionate, twisted posture, unnatural pose, disconnected, warped, misshapen, " +
	"out of scale"

// Defaults fill in generation fields an invocation leaves at zero.
type Defaults struct {
	Width          int
	Height         int
	Steps          int
	CFGScale       float64
	Seed           int64
	BatchCount     int
	NegativePrompt string
	Style          string
}

// Handler names the invocation surface the entrypoint serves.
const (
	HandlerInvoke = "invoke"
	HandlerPage   = "page"
)

type Config struct {
	Handler      string
	ServerURL    string
	OutputDir    string
	LogLevel     string
	StylesPath   string
	StylesParam  string
	PromptsParam string
	Bucket       string
	Distribution string
	SiteURL      string
	Defaults     Defaults
}

// Load reads configuration from the environment, after applying an optional
// .env file from the working directory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := &Config{
		Handler:      getenv("SD_HANDLER", HandlerInvoke),
		ServerURL:    getenv("SD_SERVER_URL", "http://localhost:8080"),
		OutputDir:    getenv("SD_OUTPUT_DIR", "downloads"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		StylesPath:   getenv("SD_STYLES_PATH", "styles.json"),
		StylesParam:  os.Getenv("SD_STYLES_PARAM"),
		PromptsParam: os.Getenv("SD_PROMPTS_PARAM"),
		Bucket:       os.Getenv("BUCKET"),
		Distribution: os.Getenv("DISTRIBUTION"),
		SiteURL:      os.Getenv("SITE_URL"),
	}

	var err error
	d := &cfg.Defaults
	if d.Width, err = intenv("SD_DEFAULT_WIDTH", 512); err != nil {
		return nil, err
	}
	if d.Height, err = intenv("SD_DEFAULT_HEIGHT", 512); err != nil {
		return nil, err
	}
	if d.Steps, err = intenv("SD_DEFAULT_STEPS", 20); err != nil {
		return nil, err
	}
	if d.BatchCount, err = intenv("SD_DEFAULT_BATCH_COUNT", 1); err != nil {
		return nil, err
	}
	seed, err := intenv("SD_DEFAULT_SEED", -1)
	if err != nil {
		return nil, err
	}
	d.Seed = int64(seed)
	if v := os.Getenv("SD_DEFAULT_CFG_SCALE"); v != "" {
		if d.CFGScale, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("SD_DEFAULT_CFG_SCALE: %w", err)
		}
	} else {
		d.CFGScale = 7.0
	}
	d.NegativePrompt = getenv("SD_DEFAULT_NEGATIVE_PROMPT", DefaultNegativePrompt)
	d.Style = getenv("SD_DEFAULT_STYLE", "base")

	if strings.TrimSpace(cfg.ServerURL) == "" {
		return nil, fmt.Errorf("SD_SERVER_URL is required")
	}
	if cfg.Handler != HandlerInvoke && cfg.Handler != HandlerPage {
		return nil, fmt.Errorf("SD_HANDLER: unknown handler %q", cfg.Handler)
	}
	if cfg.Handler == HandlerPage && cfg.Bucket == "" {
		return nil, fmt.Errorf("SD_HANDLER=%s requires BUCKET", HandlerPage)
	}
	if cfg.Distribution != "" && cfg.Bucket == "" {
		return nil, fmt.Errorf("DISTRIBUTION requires BUCKET")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func intenv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
