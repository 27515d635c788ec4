package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorgrid/pipeline/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestAlertRoundTrip(t *testing.T) {
	store := newTestStore(t)

	alert := &models.Alert{
		ID:        "alert-1",
		Severity:  models.SeverityHigh,
		Source:    "sensor-7",
		Metric:    "temperature",
		Message:   "temperature 42.0 > 40.0",
		Timestamp: time.Now().Add(-time.Minute),
		Data:      map[string]interface{}{"temperature": 42.0},
	}

	require.NoError(t, store.SaveAlert(alert))

	alerts, err := store.RecentAlerts("sensor-7", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	assert.Equal(t, alert.ID, alerts[0].ID)
	assert.Equal(t, models.SeverityHigh, alerts[0].Severity)
	assert.InDelta(t, 42.0, alerts[0].Data["temperature"], 0.0001)
}

func TestConfirmationRoundTrip(t *testing.T) {
	store := newTestStore(t)

	trigger := &models.ContractTrigger{
		ID:              "trig-1",
		ContractAddress: "0xabc",
		FunctionName:    "recordReading",
		TxHash:          "0xdeadbeef",
		BlockNumber:     1234,
		RetryCount:      1,
		Status:          models.TriggerConfirmed,
	}

	require.NoError(t, store.SaveConfirmation(trigger))

	got, err := store.Confirmations("0xabc")
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "trig-1", got[0].ID)
	assert.Equal(t, uint64(1234), got[0].BlockNumber)
	assert.Equal(t, models.TriggerConfirmed, got[0].Status)
}

func TestCleanOlderThan(t *testing.T) {
	store := newTestStore(t)

	old := &models.Alert{
		ID:        "old",
		Severity:  models.SeverityLow,
		Source:    "s",
		Metric:    "m",
		Timestamp: time.Now().Add(-48 * time.Hour),
	}
	fresh := &models.Alert{
		ID:        "fresh",
		Severity:  models.SeverityLow,
		Source:    "s",
		Metric:    "m",
		Timestamp: time.Now(),
	}

	require.NoError(t, store.SaveAlert(old))
	require.NoError(t, store.SaveAlert(fresh))
	require.NoError(t, store.CleanOlderThan(24*time.Hour))

	alerts, err := store.RecentAlerts("s", time.Now().Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "fresh", alerts[0].ID)
}
