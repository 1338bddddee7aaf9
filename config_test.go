package lsmkv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{DataDir: "/tmp/whatever", FlushThresholdBytes: 1024}.withDefaults()

	assert.Equal(t, 1, cfg.BackgroundQueueDepth)
	assert.Equal(t, 1, cfg.IndexFanout)
	assert.NotNil(t, cfg.Logger)
	assert.NotNil(t, cfg.Metrics)
}

func TestConfigValidationRejectsMissingDataDir(t *testing.T) {
	cfg := Config{FlushThresholdBytes: 1024}.withDefaults()
	err := cfg.validateConfig()
	assert.Error(t, err)
}

func TestConfigValidationRejectsZeroThreshold(t *testing.T) {
	cfg := Config{DataDir: "/tmp/whatever"}.withDefaults()
	err := cfg.validateConfig()
	assert.Error(t, err)
}

func TestConfigValidationAccepted(t *testing.T) {
	cfg := Config{DataDir: "/tmp/whatever", FlushThresholdBytes: 1024}.withDefaults()
	assert.NoError(t, cfg.validateConfig())
}
