package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultSessionSecret = "a_very_long_and_random_secret_string"

// APIKeys holds the API keys for various services.
type APIKeys struct {
	FalAI          string `json:"FAL_KEY"`
	ModelScope     string `json:"MODELSCOPE_API_KEY"`
	PollinationsAI string `json:"POLLINATIONS_AI_API_KEY"`
	NodeImage      string `json:"NODEIMAGE_API_KEY"`
	ImageAPI       string `json:"IMAGEAPI_API_KEY"`
}

// CloudflareCredentials holds the credentials for Cloudflare.
type CloudflareCredentials struct {
	AccountID string `json:"CLOUDFLARE_ACCOUNT_ID"`
	APIToken  string `json:"CLOUDFLARE_API_TOKEN"`
}

// UploadSettings is the compression policy applied to uploaded photos.
type UploadSettings struct {
	Compress     bool   `json:"COMPRESS_UPLOADS"`
	MaxEdge      int    `json:"MAX_EDGE"`
	Quality      int    `json:"JPEG_QUALITY"`
	OutputFormat string `json:"OUTPUT_FORMAT"`
	MaxBytes     int64  `json:"MAX_UPLOAD_BYTES"`
}

// Settings holds optional application settings.
type Settings struct {
	AppEnv                string   `json:"APP_ENV"`
	Port                  string   `json:"PORT"`
	ImageHost             string   `json:"IMAGE_HOST"`
	WebPassword           string   `json:"WEB_PASSWORD"`
	SessionSecret         string   `json:"SESSION_SECRET"`
	DownloadHostAllowlist []string `json:"DOWNLOAD_HOST_ALLOWLIST"`
}

// HTTPSettings holds server timeouts in seconds.
type HTTPSettings struct {
	ReadTimeoutSeconds  int `json:"HTTP_READ_TIMEOUT_SECONDS"`
	WriteTimeoutSeconds int `json:"HTTP_WRITE_TIMEOUT_SECONDS"`
	IdleTimeoutSeconds  int `json:"HTTP_IDLE_TIMEOUT_SECONDS"`
}

// Config holds the entire application configuration. It is read once at
// startup and not modified afterwards.
type Config struct {
	APIKeys               APIKeys               `json:"API_KEYS"`
	CloudflareCredentials CloudflareCredentials `json:"CLOUDFLARE_CREDENTIALS"`
	Upload                UploadSettings        `json:"UPLOAD"`
	Settings              Settings              `json:"SETTINGS"`
	HTTP                  HTTPSettings          `json:"HTTP"`

	// Warnings collects non-fatal problems found while loading, for the
	// caller to log once a logger exists.
	Warnings []string `json:"-"`
}

func Defaults() *Config {
	return &Config{
		Upload: UploadSettings{
			Compress:     true,
			MaxEdge:      1024,
			Quality:      80,
			OutputFormat: "jpeg",
			MaxBytes:     10 << 20,
		},
		Settings: Settings{
			AppEnv:        "development",
			Port:          "8080",
			ImageHost:     "fal",
			SessionSecret: defaultSessionSecret,
			DownloadHostAllowlist: []string{
				"fal.media",
				"fal.run",
				"modelscope.cn",
				"aliyuncs.com",
				"nodeimage.com",
			},
		},
		HTTP: HTTPSettings{
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 330,
			IdleTimeoutSeconds:  60,
		},
	}
}

// Load loads the configuration from defaults, conf.json, .env, and environment variables.
func Load() (*Config, error) {
	return LoadFrom("conf.json", ".env")
}

// LoadFrom is Load with explicit file paths. Missing files are skipped.
func LoadFrom(jsonPath, envPath string) (*Config, error) {
	// 1. Set default values
	cfg := Defaults()

	// 2. Load from conf.json
	file, err := os.Open(jsonPath)
	if err == nil {
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", jsonPath, err)
		}
	} else if !os.IsNotExist(err) {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("could not open %s: %v", jsonPath, err))
	}

	// 3. Load from .env file (does not override variables already set)
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("could not load %s: %v", envPath, err))
	}

	// 4. Load from environment variables (will override everything)
	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Settings.SessionSecret == defaultSessionSecret && cfg.Settings.WebPassword != "" {
		cfg.Warnings = append(cfg.Warnings, "SESSION_SECRET is the default; set a strong secret for production")
	}
	return cfg, nil
}

// loadFromEnv loads configuration from environment variables, overriding existing values.
func (c *Config) loadFromEnv() {
	// API Keys
	setString(&c.APIKeys.FalAI, "FAL_API_KEY")
	setString(&c.APIKeys.FalAI, "FAL_KEY")
	setString(&c.APIKeys.ModelScope, "MODELSCOPE_API_KEY")
	setString(&c.APIKeys.PollinationsAI, "POLLINATIONS_AI_API_KEY")
	setString(&c.APIKeys.NodeImage, "NODEIMAGE_API_KEY")
	setString(&c.APIKeys.ImageAPI, "IMAGEAPI_API_KEY")

	// Cloudflare
	setString(&c.CloudflareCredentials.AccountID, "CLOUDFLARE_ACCOUNT_ID")
	setString(&c.CloudflareCredentials.APIToken, "CLOUDFLARE_API_TOKEN")

	// Upload policy
	setBool(&c.Upload.Compress, "COMPRESS_UPLOADS")
	setInt(&c.Upload.MaxEdge, "MAX_EDGE")
	setInt(&c.Upload.Quality, "JPEG_QUALITY")
	setString(&c.Upload.OutputFormat, "OUTPUT_FORMAT")
	if val := os.Getenv("MAX_UPLOAD_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Upload.MaxBytes = n
		}
	}

	// Settings
	setString(&c.Settings.AppEnv, "APP_ENV")
	setString(&c.Settings.Port, "PORT")
	setString(&c.Settings.ImageHost, "IMAGE_HOST")
	setString(&c.Settings.WebPassword, "WEB_PASSWORD")
	setString(&c.Settings.SessionSecret, "SESSION_SECRET")
	if val := os.Getenv("DOWNLOAD_HOST_ALLOWLIST"); val != "" {
		c.Settings.DownloadHostAllowlist = splitList(val)
	}

	// HTTP
	setInt(&c.HTTP.ReadTimeoutSeconds, "HTTP_READ_TIMEOUT_SECONDS")
	setInt(&c.HTTP.WriteTimeoutSeconds, "HTTP_WRITE_TIMEOUT_SECONDS")
	setInt(&c.HTTP.IdleTimeoutSeconds, "HTTP_IDLE_TIMEOUT_SECONDS")
}

func (c *Config) validate() error {
	c.Upload.OutputFormat = strings.ToLower(strings.TrimSpace(c.Upload.OutputFormat))
	switch c.Upload.OutputFormat {
	case "jpeg", "webp":
	default:
		return fmt.Errorf("OUTPUT_FORMAT must be jpeg or webp, got %q", c.Upload.OutputFormat)
	}
	c.Settings.ImageHost = strings.ToLower(strings.TrimSpace(c.Settings.ImageHost))
	switch c.Settings.ImageHost {
	case "fal", "nodeimage":
	default:
		return fmt.Errorf("IMAGE_HOST must be fal or nodeimage, got %q", c.Settings.ImageHost)
	}
	c.Settings.DownloadHostAllowlist = normalizeHosts(c.Settings.DownloadHostAllowlist)
	if c.Upload.MaxEdge <= 0 {
		return fmt.Errorf("MAX_EDGE must be positive")
	}
	if c.Upload.Quality < 1 || c.Upload.Quality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be between 1 and 100")
	}
	return nil
}

func (h HTTPSettings) ReadTimeout() time.Duration {
	return time.Duration(h.ReadTimeoutSeconds) * time.Second
}

func (h HTTPSettings) WriteTimeout() time.Duration {
	return time.Duration(h.WriteTimeoutSeconds) * time.Second
}

func (h HTTPSettings) IdleTimeout() time.Duration {
	return time.Duration(h.IdleTimeoutSeconds) * time.Second
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitList(v string) []string {
	return normalizeHosts(strings.Split(v, ","))
}

// normalizeHosts lower-cases host names and drops blanks and trailing dots.
func normalizeHosts(hosts []string) []string {
	var out []string
	for _, h := range hosts {
		if h = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), "."); h != "" {
			out = append(out, h)
		}
	}
	return out
}
