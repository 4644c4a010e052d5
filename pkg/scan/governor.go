package scan

// SampleEvery is the default tick decimation factor.
const SampleEvery = 5

// Governor decides per tick whether a frame is due for recognition.
type Governor struct {
	Every int
}

// ShouldSample rejects while the engine is not ready, a recognition is in
// flight or the camera has no full frame yet; otherwise it accepts every
// Every-th tick.
func (g Governor) ShouldSample(tick int, busy, ocrReady, hasData bool) bool {
	if !ocrReady || busy || !hasData {
		return false
	}
	every := g.Every
	if every <= 0 {
		every = SampleEvery
	}
	return tick%every == 0
}

// ShouldSample applies the default Governor.
func ShouldSample(tick int, busy, ocrReady, hasData bool) bool {
	return Governor{Every: SampleEvery}.ShouldSample(tick, busy, ocrReady, hasData)
}
