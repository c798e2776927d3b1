package app

import (
	"context"
	"testing"

	"compensation-engine/internal/binary"
	"compensation-engine/internal/config"
	"compensation-engine/internal/rank"
	"compensation-engine/internal/reward"
	"compensation-engine/internal/roi"
	"compensation-engine/internal/store/memory"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWiresEnginesWithoutRedis(t *testing.T) {
	a, err := New(&config.Config{}, memory.New(), prometheus.NewRegistry(), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	cycles := a.Cycles()
	for _, task := range []string{roi.Task, binary.Task, reward.Task, rank.Task} {
		assert.Contains(t, cycles, task)
	}

	checks := a.HealthChecks()
	assert.NotContains(t, checks, "redis")
	for name, check := range checks {
		assert.NoError(t, check(context.Background()), name)
	}
}
