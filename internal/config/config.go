// Package config loads and validates the pipeline's environment
// configuration (spec §6, §9 design note: "re-architect as
// constructor-injected Config"). Simple ambient toggles keep the
// teacher's package-level os.Getenv style; the pipeline's
// cross-validated integer knobs are a constructed, validated struct.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
)

// Ambient, rarely-varied settings in the teacher's plain package-var
// style: read once at process start, no cross-field validation needed.
var (
	DatabaseDSN   = getEnvWithDefault("PIPELINE_DATABASE_DSN", "file:podpipe.db?_pragma=busy_timeout(5000)")
	AudioBaseDir  = getEnvWithDefault("PIPELINE_AUDIO_BASE_DIR", "./audio")
	WebBaseURL    = os.Getenv("PIPELINE_WEB_BASE_URL")
	GroundedStoreDisplayName = getEnvWithDefault("PIPELINE_STORE_DISPLAY_NAME", "podpipe-corpus")

	ValkeyHost = getEnvWithDefault("VALKEY_HOST", "localhost")
	ValkeyPort = getEnvInt("VALKEY_PORT", 6379)

	// RateLimiterBackend selects the AI-call rate limiter: "memory"
	// (default, per-process) or "redis" (shared across replicas).
	RateLimiterBackend = getEnvWithDefault("PIPELINE_RATE_LIMITER_BACKEND", "memory")

	// Storage backend selection for the optional audio archival sink.
	ArchiveBackend  = getEnvWithDefault("PIPELINE_ARCHIVE_BACKEND", "none") // "none" or "s3"
	S3Region        = getEnvWithDefault("AWS_REGION", "auto")
	S3Bucket        = os.Getenv("S3_BUCKET")
	S3AccessKey     = os.Getenv("AWS_ACCESS_KEY_ID")
	S3SecretKey     = os.Getenv("AWS_SECRET_ACCESS_KEY")
	S3EndpointURL   = os.Getenv("AWS_ENDPOINT_URL")

	WebhookSecret = getEnvWithDefault("PIPELINE_WEBHOOK_SECRET", uuid.New().String())

	// JWTSecret signs/verifies the chat API's bearer tokens (internal/httpapi).
	JWTSecret = getEnvWithDefault("PIPELINE_JWT_SECRET", uuid.New().String())

	HTTPPort = getEnvWithDefault("PORT", "8080")
)

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// PipelineConfig holds the orchestrator's cross-validated integer
// knobs (spec §6). Unlike the ambient vars above, these are loaded
// through Load so invalid combinations fail fast at startup rather
// than surfacing as a confusing runtime invariant violation.
type PipelineConfig struct {
	SyncIntervalSeconds       int
	DownloadBufferSize        int
	DownloadBufferThreshold   int
	DownloadBatchSize         int
	DownloadWorkers           int
	PostProcessingWorkers     int
	IdleWaitSeconds           int
	MaxRetries                int
}

// Load reads PIPELINE_* environment variables, applies documented
// defaults, and validates bounds and the cross-field invariant
// threshold < buffer_size.
func Load() (*PipelineConfig, error) {
	c := &PipelineConfig{
		SyncIntervalSeconds:     getEnvInt("PIPELINE_SYNC_INTERVAL_SECONDS", 900),
		DownloadBufferSize:      getEnvInt("PIPELINE_DOWNLOAD_BUFFER_SIZE", 10),
		DownloadBufferThreshold: getEnvInt("PIPELINE_DOWNLOAD_BUFFER_THRESHOLD", 5),
		DownloadBatchSize:       getEnvInt("PIPELINE_DOWNLOAD_BATCH_SIZE", 10),
		DownloadWorkers:         getEnvInt("PIPELINE_DOWNLOAD_WORKERS", 5),
		PostProcessingWorkers:   getEnvInt("PIPELINE_POST_PROCESSING_WORKERS", 4),
		IdleWaitSeconds:         getEnvInt("PIPELINE_IDLE_WAIT_SECONDS", 10),
		MaxRetries:              getEnvInt("PIPELINE_MAX_RETRIES", 3),
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *PipelineConfig) validate() error {
	type bound struct {
		name string
		val  int
		min  int
	}
	bounds := []bound{
		{"PIPELINE_SYNC_INTERVAL_SECONDS", c.SyncIntervalSeconds, 1},
		{"PIPELINE_DOWNLOAD_BUFFER_SIZE", c.DownloadBufferSize, 1},
		{"PIPELINE_DOWNLOAD_BUFFER_THRESHOLD", c.DownloadBufferThreshold, 0},
		{"PIPELINE_DOWNLOAD_BATCH_SIZE", c.DownloadBatchSize, 1},
		{"PIPELINE_DOWNLOAD_WORKERS", c.DownloadWorkers, 1},
		{"PIPELINE_POST_PROCESSING_WORKERS", c.PostProcessingWorkers, 0},
		{"PIPELINE_IDLE_WAIT_SECONDS", c.IdleWaitSeconds, 1},
		{"PIPELINE_MAX_RETRIES", c.MaxRetries, 1},
	}
	for _, b := range bounds {
		if b.val < b.min {
			return fmt.Errorf("config: %s must be >= %d, got %d", b.name, b.min, b.val)
		}
	}
	if c.DownloadBufferThreshold >= c.DownloadBufferSize {
		return fmt.Errorf("config: PIPELINE_DOWNLOAD_BUFFER_THRESHOLD (%d) must be less than PIPELINE_DOWNLOAD_BUFFER_SIZE (%d)",
			c.DownloadBufferThreshold, c.DownloadBufferSize)
	}
	return nil
}
