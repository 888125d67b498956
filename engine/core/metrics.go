package core

const avgCount = 30

// FrameMetrics keeps a rolling frame-time average and a frames-per-second counter.
type FrameMetrics struct {
	counter            int
	msTimes            [avgCount]float64
	msAvg              float64
	frames             int
	accumulatedFrameMS float64
	fps                float64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{}
}

// Update records one frame that took frameElapsed seconds.
func (m *FrameMetrics) Update(frameElapsed float64) {
	frameMS := frameElapsed * 1000.0
	m.msTimes[m.counter] = frameMS
	if m.counter == avgCount-1 {
		sum := 0.0
		for _, t := range m.msTimes {
			sum += t
		}
		m.msAvg = sum / avgCount
	}
	m.counter = (m.counter + 1) % avgCount

	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}
	m.frames++
}

func (m *FrameMetrics) FPS() float64 {
	return m.fps
}

// FrameTime is the average frame time in milliseconds over the last window.
func (m *FrameMetrics) FrameTime() float64 {
	return m.msAvg
}
