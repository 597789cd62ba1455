package config

import "testing"

func TestValidateRejectsThresholdAtOrAboveBufferSize(t *testing.T) {
	c := &PipelineConfig{
		SyncIntervalSeconds: 900, DownloadBufferSize: 10, DownloadBufferThreshold: 10,
		DownloadBatchSize: 10, DownloadWorkers: 5, PostProcessingWorkers: 4,
		IdleWaitSeconds: 10, MaxRetries: 3,
	}
	if err := c.validate(); err == nil {
		t.Fatal("expected error when threshold equals buffer size")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	c := &PipelineConfig{
		SyncIntervalSeconds: 900, DownloadBufferSize: 10, DownloadBufferThreshold: 5,
		DownloadBatchSize: 10, DownloadWorkers: 5, PostProcessingWorkers: 4,
		IdleWaitSeconds: 10, MaxRetries: 3,
	}
	if err := c.validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestValidateRejectsNonPositiveWorkers(t *testing.T) {
	c := &PipelineConfig{
		SyncIntervalSeconds: 900, DownloadBufferSize: 10, DownloadBufferThreshold: 5,
		DownloadBatchSize: 10, DownloadWorkers: 0, PostProcessingWorkers: 4,
		IdleWaitSeconds: 10, MaxRetries: 3,
	}
	if err := c.validate(); err == nil {
		t.Fatal("expected error for zero download workers")
	}
}
