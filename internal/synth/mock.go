package synth

import (
	"context"
	"hash/fnv"

	"github.com/fabler-audio/fabler/internal/config"
)

// mockSynth produces deterministic audio without a model: a low-amplitude
// pattern seeded by the text, 50ms of audio per 10 characters. Used for
// dry runs and tests.
type mockSynth struct {
	sampleRate int
}

func NewMockEngine(cfg config.EngineConfig) Synthesizer {
	return &mockSynth{sampleRate: cfg.SampleRate}
}

func (m *mockSynth) Name() string { return "mock" }

func (m *mockSynth) Synthesize(ctx context.Context, req Request) (Audio, error) {
	if err := ctx.Err(); err != nil {
		return Audio{}, &Error{Kind: FailureTimeout, Err: err}
	}

	h := fnv.New32a()
	h.Write([]byte(req.Text))
	h.Write([]byte(req.Profile.String()))
	seed := h.Sum32()

	samples := m.sampleRate / 20 * (len(req.Text)/10 + 1)
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		// xorshift keeps the output stable across runs for the same input.
		seed ^= seed << 13
		seed ^= seed >> 17
		seed ^= seed << 5
		v := int16(seed % 256)
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}
	return Audio{PCM: pcm, SampleRate: m.sampleRate}, nil
}
