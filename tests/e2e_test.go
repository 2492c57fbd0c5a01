//go:build e2e
// +build e2e

package tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/silofs/silofs/internal/adapter"
	"github.com/silofs/silofs/internal/config"
)

// E2ETestSuite exercises the adapter's wiring and validation logic
// without mounting FUSE, which is not available in most CI sandboxes.
type E2ETestSuite struct {
	suite.Suite
	ctx    context.Context
	config *config.Configuration
}

func TestE2EFunctionality(t *testing.T) {
	suite.Run(t, new(E2ETestSuite))
}

func (s *E2ETestSuite) SetupSuite() {
	s.ctx = context.Background()
	s.config = config.NewDefault()
}

func (s *E2ETestSuite) TestAdapterCreation() {
	a, err := adapter.New(s.T().TempDir(), "alice", "home", "/tmp/test-mount", s.config)
	require.NoError(s.T(), err)
	require.NotNil(s.T(), a)
}

func (s *E2ETestSuite) TestAdapterValidation() {
	t := s.T()

	_, err := adapter.New(t.TempDir(), "alice", "", "/tmp/test-mount", s.config)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "volume name cannot be empty")

	invalidConfig := &config.Configuration{}
	invalidConfig.Silofs.ReplicationFactor = 0
	_, err = adapter.New(t.TempDir(), "alice", "home", "/tmp/test-mount", invalidConfig)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func (s *E2ETestSuite) TestConfigurationParsing() {
	t := s.T()

	defaultConfig := config.NewDefault()
	require.NoError(t, defaultConfig.Validate())

	assert.Equal(t, "INFO", defaultConfig.Global.LogLevel)
	assert.True(t, defaultConfig.Monitoring.Metrics.Enabled)
	assert.GreaterOrEqual(t, defaultConfig.Silofs.ReplicationFactor, 1)
	assert.Greater(t, defaultConfig.Silofs.BlockSize, uint32(0))
}

func (s *E2ETestSuite) TestReleaseReadiness() {
	t := s.T()

	require.NotPanics(t, func() {
		_ = config.NewDefault()
	})

	require.NotPanics(t, func() {
		a, err := adapter.New(t.TempDir(), "alice", "home", "/tmp/test-mount", s.config)
		require.NoError(t, err)
		require.NotNil(t, a)
	})

	cfg := config.NewDefault()
	require.NoError(t, cfg.Validate())
}
