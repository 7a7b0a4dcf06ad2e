package core

import (
	"sync"
	"sync/atomic"
)

const AVG_COUNT uint8 = 30

// Metrics averages frame times and counts render core events.
type Metrics struct {
	mu                 sync.Mutex
	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64

	PipelinesCreated atomic.Uint64
	QueueRebuilds    atomic.Uint64
	NodesCulled      atomic.Uint64
	FramesAborted    atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Update(frameElapsedTime float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Calculate frame ms average
	frameMS := frameElapsedTime * 1000.0
	m.msTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		m.msAvg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			m.msAvg += m.msTimes[i]
		}
		m.msAvg /= float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	// Count all Frames.
	m.frames++
}

// Frame returns the last measured FPS and the averaged frame time in ms.
func (m *Metrics) Frame() (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps, m.msAvg
}
