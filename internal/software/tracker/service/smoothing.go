package service

import (
	"time"

	"bus-tracker/internal/domain/geo"
)

// PublisherConfig tunes how raw samples become store writes.
type PublisherConfig struct {
	MinInterval       time.Duration
	MinDistanceMeters float64
	SmoothingWindow   int
	LowAccuracyMeters float64
	BufferSize        int
}

// DefaultPublisherConfig returns 3 s / 10 m throttling and 5-sample smoothing past 50 m accuracy.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		MinInterval:       3 * time.Second,
		MinDistanceMeters: 10,
		SmoothingWindow:   5,
		LowAccuracyMeters: 50,
		BufferSize:        64,
	}
}

func (c PublisherConfig) withDefaults() PublisherConfig {
	d := DefaultPublisherConfig()
	if c.MinInterval <= 0 {
		c.MinInterval = d.MinInterval
	}
	if c.MinDistanceMeters <= 0 {
		c.MinDistanceMeters = d.MinDistanceMeters
	}
	if c.SmoothingWindow <= 0 {
		c.SmoothingWindow = d.SmoothingWindow
	}
	if c.LowAccuracyMeters <= 0 {
		c.LowAccuracyMeters = d.LowAccuracyMeters
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	return c
}

// sampleFilter is the per-stream state: the last written position and the
// current run of low-accuracy samples.
type sampleFilter struct {
	cfg    PublisherConfig
	last   *geo.Position
	lowRun []geo.Position
}

func newSampleFilter(cfg PublisherConfig) *sampleFilter {
	return &sampleFilter{cfg: cfg}
}

// next smooths the sample if needed and reports whether the result should be written.
// A sample is skipped only when it is both too soon and too close to the last write.
func (f *sampleFilter) next(sample geo.Position) (geo.Position, bool) {
	out := f.smooth(sample)

	if f.last != nil {
		elapsed := out.CapturedAt.Sub(f.last.CapturedAt)
		dist := f.last.DistanceTo(out)
		if elapsed < f.cfg.MinInterval && dist < f.cfg.MinDistanceMeters {
			return out, false
		}
	}
	return out, true
}

// accept records a successful write. Failed writes leave the previous anchor so the next sample retries.
func (f *sampleFilter) accept(p geo.Position) {
	c := p.Clone()
	f.last = &c
}

func (f *sampleFilter) smooth(sample geo.Position) geo.Position {
	acc, ok := sample.Accuracy()
	if !ok || acc <= f.cfg.LowAccuracyMeters {
		f.lowRun = f.lowRun[:0]
		return sample
	}

	f.lowRun = append(f.lowRun, sample.Clone())
	if n := len(f.lowRun); n > f.cfg.SmoothingWindow {
		f.lowRun = append(f.lowRun[:0], f.lowRun[n-f.cfg.SmoothingWindow:]...)
	}
	if len(f.lowRun) < 2 {
		return sample
	}
	return weightedMean(f.lowRun)
}

// weightedMean averages samples with weights 1..N, newest heaviest. The result keeps the newest capture time.
func weightedMean(samples []geo.Position) geo.Position {
	var lat, lng, acc, total float64
	for i, s := range samples {
		w := float64(i + 1)
		lat += s.Latitude * w
		lng += s.Longitude * w
		a, _ := s.Accuracy()
		acc += a * w
		total += w
	}
	acc /= total
	return geo.Position{
		Latitude:       lat / total,
		Longitude:      lng / total,
		AccuracyMeters: &acc,
		CapturedAt:     samples[len(samples)-1].CapturedAt,
	}
}
