package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port            string
	Environment     string
	SupabaseURL     string
	DatabaseURL     string
	SupabaseJWKSURL string // Constructed from SupabaseURL + /auth/v1/.well-known/jwks.json
	SupabaseKey     string // Service role key, only needed by the seed command
	CORSOrigins     string
	TablePrefix     string
	LogDir          string

	// Blob store
	BlobBackend string // "drive", "s3" or "memory"
	Drive       DriveConfig
	S3          S3Config

	// Upload preprocessing
	CompressThresholdBytes int64

	// Retention reaper
	Reaper ReaperConfig

	// DevSubjectIDs are the subjects known to the in-memory taxonomy
	DevSubjectIDs []string

	// Debug flags
	Debug bool
}

// DriveConfig holds the OAuth client and folder used by the drive blob backend.
type DriveConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	RefreshToken string // Bootstrap value; the credential store wins once populated
	FolderID     string
	APIBaseURL   string
	UploadURL    string
}

// S3Config holds the connection settings for an S3-compatible blob backend.
type S3Config struct {
	Endpoint      string
	Bucket        string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	PublicBaseURL string
}

// ReaperConfig controls the retention reaper schedule.
type ReaperConfig struct {
	Enabled         bool
	Interval        time.Duration
	RetentionWindow time.Duration
	BatchSize       int
	LeaseDuration   time.Duration

	// RetryBackoff delays a note whose blob delete failed; 0 means two intervals
	RetryBackoff time.Duration
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")
	tablePrefix := getTablePrefix(env)
	supabaseURL := getEnv("SUPABASE_URL", "")

	// Construct JWKS URL from Supabase URL
	jwksURL := supabaseURL + "/auth/v1/.well-known/jwks.json"

	return &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     env,
		SupabaseURL:     supabaseURL,
		DatabaseURL:     getEnv("DATABASE_URL", getEnv("SUPABASE_DB_URL", "")),
		SupabaseJWKSURL: jwksURL,
		SupabaseKey:     getEnv("SUPABASE_KEY", ""),
		CORSOrigins:     getEnv("CORS_ORIGINS", "http://localhost:3000"),
		TablePrefix:     tablePrefix,
		LogDir:          getEnv("LOG_DIR", ""),
		BlobBackend:     strings.ToLower(getEnv("BLOB_BACKEND", getDefaultBlobBackend(env))),
		Drive: DriveConfig{
			ClientID:     getEnv("DRIVE_CLIENT_ID", ""),
			ClientSecret: getEnv("DRIVE_CLIENT_SECRET", ""),
			AuthURL:      getEnv("DRIVE_AUTH_URL", "https://accounts.google.com/o/oauth2/auth"),
			TokenURL:     getEnv("DRIVE_TOKEN_URL", "https://oauth2.googleapis.com/token"),
			RedirectURL:  getEnv("DRIVE_REDIRECT_URL", "urn:ietf:wg:oauth:2.0:oob"),
			RefreshToken: getEnv("DRIVE_REFRESH_TOKEN", ""),
			FolderID:     getEnv("DRIVE_FOLDER_ID", ""),
			APIBaseURL:   getEnv("DRIVE_API_URL", "https://www.googleapis.com/drive/v3"),
			UploadURL:    getEnv("DRIVE_UPLOAD_URL", "https://www.googleapis.com/upload/drive/v3"),
		},
		S3: S3Config{
			Endpoint:      getEnv("S3_ENDPOINT", ""),
			Bucket:        getEnv("S3_BUCKET", "notes"),
			AccessKey:     getEnv("S3_ACCESS_KEY", ""),
			SecretKey:     getEnv("S3_SECRET_KEY", ""),
			UseSSL:        getBool("S3_USE_SSL", true),
			PublicBaseURL: getEnv("S3_PUBLIC_BASE_URL", ""),
		},
		CompressThresholdBytes: getInt64("COMPRESS_THRESHOLD_BYTES", DefaultCompressThresholdBytes),
		Reaper: ReaperConfig{
			Enabled:         getBool("REAPER_ENABLED", true),
			Interval:        getDuration("REAPER_INTERVAL", time.Hour),
			RetentionWindow: getDuration("RETENTION_WINDOW", DefaultRetentionWindow),
			BatchSize:       int(getInt64("REAPER_BATCH_SIZE", 100)),
			LeaseDuration:   getDuration("REAPER_LEASE", 5*time.Minute),
			RetryBackoff:    getDuration("REAPER_RETRY_BACKOFF", 0),
		},
		DevSubjectIDs: splitList(getEnv("DEV_SUBJECT_IDS", "general")),
		// Debug flags - default to true in dev/test, false in production
		Debug: getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true" // Enable DEBUG in dev/test by default
}

// getDefaultBlobBackend keeps dev runnable without remote credentials
func getDefaultBlobBackend(env string) string {
	if env == "prod" {
		return "drive"
	}
	return "memory"
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	// Auto-generate based on environment
	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	case "dev":
		return "dev_"
	default:
		return "dev_"
	}
}

// splitList parses a comma separated env value, dropping blanks
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// getDuration accepts Go duration strings ("90m", "48h")
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}
