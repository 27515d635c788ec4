package sensor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorgrid/pipeline/pkg/models"
)

func TestReadingBufferBound(t *testing.T) {
	buf := newReadingBuffer()

	for i := 0; i < maxBufferedReadings+1; i++ {
		buf.Append(models.SensorReading{
			SensorID: "s1",
			Data:     map[string]interface{}{"seq": fmt.Sprintf("%d", i)},
		})
	}

	require.Equal(t, maxBufferedReadings, buf.Len())

	// The 101st append evicted the oldest entry (FIFO).
	snapshot := buf.Snapshot()
	assert.Equal(t, "1", snapshot[0].Data["seq"])
	assert.Equal(t, "100", snapshot[len(snapshot)-1].Data["seq"])
}

func TestReadingBufferSnapshotIsCopy(t *testing.T) {
	buf := newReadingBuffer()
	buf.Append(models.SensorReading{SensorID: "s1"})

	snapshot := buf.Snapshot()
	snapshot[0].SensorID = "mutated"

	assert.Equal(t, "s1", buf.Snapshot()[0].SensorID)
}

func TestReadingBufferClear(t *testing.T) {
	buf := newReadingBuffer()
	buf.Append(models.SensorReading{SensorID: "s1"})
	buf.Clear()

	assert.Zero(t, buf.Len())
}
