package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Upload    UploadConfig
	RateLimit RateLimitConfig
	Jobs      JobConfig
	Pipeline  PipelineConfig
	GC        GCConfig
	Download  DownloadConfig
	ASR       ASRConfig
	Media     MediaConfig
	LLM       LLMConfig
	Profile   ProfileConfig
}

type ServerConfig struct {
	Port            int           `envconfig:"API_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`
}

type DatabaseConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"sumcache"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"sumcache"`
	DBName   string `envconfig:"POSTGRES_DB" default:"sumcache"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string        `envconfig:"REDIS_PASSWORD" default:""`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	EntryTTL time.Duration `envconfig:"REDIS_ENTRY_TTL" default:"5m"`
}

// StorageConfig locates the on-disk roots. Bundles, tmp working dirs and
// uploads all live under WorkDir so finalize can rely on a same-filesystem
// rename.
type StorageConfig struct {
	WorkDir string `envconfig:"WORK_DIR" default:"/var/lib/sumcache"`
}

func (c StorageConfig) CacheRoot() string  { return filepath.Join(c.WorkDir, "cache") }
func (c StorageConfig) TmpRoot() string    { return filepath.Join(c.WorkDir, "tmp") }
func (c StorageConfig) UploadRoot() string { return filepath.Join(c.WorkDir, "uploads") }

type UploadConfig struct {
	Concurrency             int           `envconfig:"UPLOAD_CONCURRENCY" default:"2"`
	ChunkSize               int           `envconfig:"UPLOAD_CHUNK_SIZE" default:"8388608"`
	ReadTimeoutSeconds      int           `envconfig:"UPLOAD_READ_TIMEOUT_SECONDS" default:"30"`
	WriteTimeoutSeconds     int           `envconfig:"UPLOAD_WRITE_TIMEOUT_SECONDS" default:"30"`
	ContentLengthGraceBytes int64         `envconfig:"UPLOAD_CONTENT_LENGTH_GRACE_BYTES" default:"10485760"`
	MaxFileSizeMB           int64         `envconfig:"UPLOAD_MAX_FILE_SIZE_MB" default:"2048"`
	TTLSeconds              int64         `envconfig:"UPLOAD_TTL_SECONDS" default:"86400"`
	SweepInterval           time.Duration `envconfig:"UPLOAD_SWEEP_INTERVAL" default:"1h"`
}

func (c UploadConfig) MaxFileSizeBytes() int64 { return c.MaxFileSizeMB * 1024 * 1024 }

func (c UploadConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c UploadConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

type RateLimitConfig struct {
	UploadPerMinute  int `envconfig:"RATE_LIMIT_UPLOAD_PER_MINUTE" default:"30"`
	SummaryPerMinute int `envconfig:"RATE_LIMIT_SUMMARY_PER_MINUTE" default:"60"`
}

type JobConfig struct {
	WorkerCount int `envconfig:"JOB_WORKER_COUNT" default:"1"`
	QueueSize   int `envconfig:"JOB_QUEUE_SIZE" default:"256"`
}

type PipelineConfig struct {
	TranscodeConcurrency  int `envconfig:"TRANSCODE_CONCURRENCY" default:"2"`
	TranscribeConcurrency int `envconfig:"TRANSCRIBE_CONCURRENCY" default:"2"`
	StageWaitSeconds      int `envconfig:"PIPELINE_STAGE_WAIT_SECONDS" default:"300"`
}

func (c PipelineConfig) StageWait() time.Duration {
	return time.Duration(c.StageWaitSeconds) * time.Second
}

type GCConfig struct {
	CacheMaxBytes     int64 `envconfig:"CACHE_MAX_BYTES" default:"53687091200"`
	CacheTTLDays      int   `envconfig:"CACHE_TTL_DAYS" default:"30"`
	FailedTTLHours    int   `envconfig:"FAILED_TTL_HOURS" default:"24"`
	GCIntervalSeconds int   `envconfig:"GC_INTERVAL_SECONDS" default:"3600"`
}

func (c GCConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLDays) * 24 * time.Hour
}

func (c GCConfig) FailedTTL() time.Duration {
	return time.Duration(c.FailedTTLHours) * time.Hour
}

func (c GCConfig) Interval() time.Duration {
	return time.Duration(c.GCIntervalSeconds) * time.Second
}

type DownloadConfig struct {
	SubtitleMaxSizeMB int64 `envconfig:"SUBTITLE_MAX_SIZE_MB" default:"10"`
	VideoMaxSizeMB    int64 `envconfig:"VIDEO_MAX_SIZE_MB" default:"2048"`
	// VideoRateLimit caps download throughput in bytes per second.
	// Zero disables the cap.
	VideoRateLimit int64 `envconfig:"VIDEO_DOWNLOAD_RATE_LIMIT" default:"0"`
}

func (c DownloadConfig) SubtitleMaxBytes() int64 { return c.SubtitleMaxSizeMB * 1024 * 1024 }
func (c DownloadConfig) VideoMaxBytes() int64    { return c.VideoMaxSizeMB * 1024 * 1024 }

// ASRConfig selects and parameterizes the transcription engine. Engine is
// "http" for an OpenAI-compatible endpoint or "local" for a whisper.cpp
// style binary.
type ASRConfig struct {
	Engine     string `envconfig:"ASR_ENGINE" default:"http"`
	BaseURL    string `envconfig:"ASR_BASE_URL" default:"https://api.openai.com/v1"`
	APIKey     string `envconfig:"ASR_API_KEY" default:""`
	Model      string `envconfig:"ASR_MODEL" default:"whisper-1"`
	Language   string `envconfig:"ASR_LANGUAGE" default:"zh"`
	BinaryPath string `envconfig:"ASR_BINARY_PATH" default:""`
	ModelPath  string `envconfig:"ASR_MODEL_PATH" default:""`
}

// MediaConfig locates the external media binaries.
type MediaConfig struct {
	FFmpegPath  string `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	FFProbePath string `envconfig:"FFPROBE_PATH" default:"ffprobe"`
	YtDlpPath   string `envconfig:"YTDLP_PATH" default:"yt-dlp"`
	CookieFile  string `envconfig:"YTDLP_COOKIE_FILE" default:""`
}

type LLMConfig struct {
	BaseURL       string `envconfig:"LLM_BASE_URL" default:"https://api.openai.com/v1"`
	APIKey        string `envconfig:"LLM_API_KEY" default:""`
	Model         string `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	SummaryPrompt string `envconfig:"LLM_SUMMARY_PROMPT" default:"请根据以下内容生成简洁的中文摘要。"`
	MaxTokens     int    `envconfig:"LLM_MAX_TOKENS" default:"1024"`
	MaxInputChars int    `envconfig:"LLM_MAX_INPUT_CHARS" default:"60000"`
}

type ProfileConfig struct {
	Version string `envconfig:"PROFILE_VERSION" default:"v1"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
