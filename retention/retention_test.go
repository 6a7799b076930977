package retention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicyIsSixMonths(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, DefaultTaskHorizon, p.Horizon)
	assert.NoError(t, p.Validate())
}

func TestValidateRejectsNegativeHorizon(t *testing.T) {
	p := Policy{Horizon: -time.Hour}
	assert.Error(t, p.Validate())
}

func TestValidateAllowsZeroHorizon(t *testing.T) {
	p := Policy{Horizon: 0}
	assert.NoError(t, p.Validate())
}

func TestCutoffSubtractsHorizonFromNow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := Policy{Horizon: 24 * time.Hour}
	assert.Equal(t, now.Add(-24*time.Hour), p.Cutoff(now))
}
