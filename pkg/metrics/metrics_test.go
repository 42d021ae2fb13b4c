package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHandlerIsNotNil(t *testing.T) {
	assert.NotNil(t, Handler())
}

func TestTimerObservesElapsedDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, timer.Duration(), 2*time.Millisecond)

	timer.ObserveDuration(ShipBootstrapDuration)
}

func TestCountersAcceptLabelValues(t *testing.T) {
	ShipsBootstrapped.WithLabelValues("success").Inc()
	ShipsBootstrapped.WithLabelValues("failure").Inc()
	ProviderOperationsTotal.WithLabelValues("create_storage", "success").Inc()
	TasksByStatus.WithLabelValues("pending").Set(3)
	StaleTasksTotal.Set(1)
	ActiveVoyages.Set(2)
}
