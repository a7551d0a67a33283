package synth

import (
	"context"
	"fmt"
	"time"

	"github.com/fabler-audio/fabler/internal/book"
	"github.com/fabler-audio/fabler/internal/voice"
)

// BenchResult summarizes a synthesis benchmark of one engine over a fixed
// set of units.
type BenchResult struct {
	Engine  string
	Units   int
	Elapsed time.Duration
	Audio   time.Duration
	// RealTimeFactor is Elapsed divided by Audio; below 1.0 the engine
	// synthesizes faster than playback.
	RealTimeFactor float64
}

// Benchmark synthesizes every unit sequentially and measures wall time
// against the audio produced, so engines can be compared on the same text.
func Benchmark(ctx context.Context, s Synthesizer, profile voice.Profile, speed float64, units []book.NarrationUnit) (BenchResult, error) {
	res := BenchResult{Engine: s.Name(), Units: len(units)}
	start := time.Now()
	for _, u := range units {
		audio, err := s.Synthesize(ctx, Request{Text: u.Text, Profile: profile, Speed: speed})
		if err != nil {
			return res, fmt.Errorf("benchmark unit %d: %w", u.OrderIndex, err)
		}
		res.Audio += time.Duration(audio.Duration() * float64(time.Second))
	}
	res.Elapsed = time.Since(start)
	if res.Audio > 0 {
		res.RealTimeFactor = res.Elapsed.Seconds() / res.Audio.Seconds()
	}
	return res, nil
}
