package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/riskwatch/internal/models"
	"github.com/xaenox/riskwatch/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Dify.Endpoint = "http://127.0.0.1:1/run"
	cfg.Storage.Sessions = map[string]config.SessionIdentity{
		"tab-1": {UserID: "parent-1", ChildUserID: 9},
	}
	return cfg
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LogConfig{Level: "debug"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	_, err = newLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestOpenStore_MemorySeed(t *testing.T) {
	store, err := openStore(context.Background(), testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer store.Close()

	identity, ok, err := store.Lookup(context.Background(), "tab-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.UserIdentity{UserID: "parent-1", ChildUserID: 9}, identity)
}

func TestNewWorkflow_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Classifier.Backend = "bedrock"

	_, err := newWorkflow(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNewApp_BuildsIndependentSessions(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	assert.NotSame(t, a.newSession("a"), a.newSession("b"))
}
