package sensor

import (
	"sync"

	"github.com/sensorgrid/pipeline/pkg/models"
)

// maxBufferedReadings bounds each sensor's rolling window.
const maxBufferedReadings = 100

// readingBuffer is a FIFO ring of the most recent readings for one
// sensor. Appending beyond capacity evicts the oldest entry.
type readingBuffer struct {
	mu       sync.RWMutex
	readings []models.SensorReading
}

func newReadingBuffer() *readingBuffer {
	return &readingBuffer{
		readings: make([]models.SensorReading, 0, maxBufferedReadings),
	}
}

func (b *readingBuffer) Append(reading models.SensorReading) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.readings) >= maxBufferedReadings {
		b.readings = b.readings[1:]
	}

	b.readings = append(b.readings, reading)
}

// Snapshot returns a copy of the buffer contents, oldest first.
func (b *readingBuffer) Snapshot() []models.SensorReading {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.SensorReading, len(b.readings))
	copy(out, b.readings)

	return out
}

func (b *readingBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.readings)
}

func (b *readingBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.readings = b.readings[:0]
}
