package aws

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAWSConfigRegionFallback(t *testing.T) {
	cfg, err := LoadAWSConfig(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Region)
}

func TestLoadAWSConfigExplicitRegion(t *testing.T) {
	cfg, err := LoadAWSConfig(context.Background(), "eu-central-1")
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", cfg.Region)
}
