package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/fabler-audio/fabler/internal/book"
	"github.com/fabler-audio/fabler/internal/config"
	"github.com/fabler-audio/fabler/internal/fragcache"
	"github.com/fabler-audio/fabler/internal/voice"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testProfile(t *testing.T) voice.Profile {
	t.Helper()
	p, err := voice.Resolve("af_heart", voice.NewRegistry())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return p
}

func disabledCache(t *testing.T) *fragcache.Store {
	t.Helper()
	s, err := fragcache.Open(context.Background(), config.CacheConfig{Enabled: false}, testLogger())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	return s
}

func testUnits(n int) []book.NarrationUnit {
	units := make([]book.NarrationUnit, n)
	for i := range units {
		units[i] = book.NarrationUnit{
			Text:           fmt.Sprintf("Unit number %d speaks plainly here.", i),
			ChapterID:      i / 3,
			OrderIndex:     i,
			ParagraphStart: i%3 == 0,
		}
	}
	return units
}

var testEngineCfg = config.EngineConfig{SampleRate: 1000, Speed: 1.0}

func testSynthCfg() config.SynthesisConfig {
	return config.SynthesisConfig{
		Concurrency:      4,
		MaxRetries:       2,
		RetryBaseMS:      1,
		RequestTimeoutMS: 5000,
		SilenceCharsPerS: 15,
	}
}

// stubSynth scripts per-call behavior for driver tests.
type stubSynth struct {
	mu      sync.Mutex
	calls   int
	jitter  bool
	failure func(call int, req Request) error
}

func (s *stubSynth) Name() string { return "stub" }

func (s *stubSynth) Synthesize(ctx context.Context, req Request) (Audio, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	if s.jitter {
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
	}
	if s.failure != nil {
		if err := s.failure(call, req); err != nil {
			return Audio{}, err
		}
	}
	return Audio{PCM: []byte{byte(len(req.Text)), 0}, SampleRate: 1000}, nil
}

func (s *stubSynth) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type collector struct {
	mu    sync.Mutex
	frags map[int]Fragment
}

func newCollector() *collector { return &collector{frags: make(map[int]Fragment)} }

func (c *collector) add(f Fragment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.frags[f.OrderIndex]; dup {
		return fmt.Errorf("duplicate fragment %d", f.OrderIndex)
	}
	c.frags[f.OrderIndex] = f
	return nil
}

func TestDriverSynthesizesEveryUnit(t *testing.T) {
	stub := &stubSynth{jitter: true}
	d := NewDriver(stub, testProfile(t), testEngineCfg, testSynthCfg(), disabledCache(t), testLogger())

	units := testUnits(12)
	sink := newCollector()
	stats, err := d.Run(context.Background(), units, sink.add)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Synthesized != 12 || stats.SilenceSubstituted != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(sink.frags) != 12 {
		t.Fatalf("expected 12 fragments, got %d", len(sink.frags))
	}
	for _, u := range units {
		f, ok := sink.frags[u.OrderIndex]
		if !ok {
			t.Fatalf("missing fragment %d", u.OrderIndex)
		}
		if f.ChapterID != u.ChapterID || f.ParagraphStart != u.ParagraphStart {
			t.Fatalf("fragment %d lost unit attributes: %+v", u.OrderIndex, f)
		}
	}
}

func TestDriverRetriesTransientFailures(t *testing.T) {
	stub := &stubSynth{
		failure: func(call int, _ Request) error {
			if call <= 2 {
				return &Error{Kind: FailureResourceExhausted, Err: errors.New("gpu busy")}
			}
			return nil
		},
	}
	d := NewDriver(stub, testProfile(t), testEngineCfg, testSynthCfg(), disabledCache(t), testLogger())

	sink := newCollector()
	cfgUnits := testUnits(1)
	stats, err := d.Run(context.Background(), cfgUnits, sink.add)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Synthesized != 1 {
		t.Fatalf("expected success after retries, got %+v", stats)
	}
	if stats.Retries != 2 {
		t.Fatalf("expected 2 retries, got %d", stats.Retries)
	}
	if sink.frags[0].Silence {
		t.Fatal("unit should not have been silence-substituted")
	}
}

func TestDriverSubstitutesSilenceAfterRetryLimit(t *testing.T) {
	stub := &stubSynth{
		failure: func(int, Request) error {
			return &Error{Kind: FailureTimeout, Err: errors.New("model stalled")}
		},
	}
	cfg := testSynthCfg()
	d := NewDriver(stub, testProfile(t), testEngineCfg, cfg, disabledCache(t), testLogger())

	unit := book.NarrationUnit{Text: "012345678901234567890123456789", OrderIndex: 0} // 30 chars
	sink := newCollector()
	stats, err := d.Run(context.Background(), []book.NarrationUnit{unit}, sink.add)
	if err != nil {
		t.Fatalf("silence substitution must not fail the run: %v", err)
	}
	if stats.SilenceSubstituted != 1 || len(stats.Failures) != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Failures[0].Attempts != cfg.MaxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", cfg.MaxRetries+1, stats.Failures[0].Attempts)
	}
	f := sink.frags[0]
	if !f.Silence {
		t.Fatal("expected a silence fragment")
	}
	// 30 chars at 15 chars/s is 2s of silence at 1000Hz mono s16: 4000 bytes.
	if len(f.PCM) != 4000 {
		t.Fatalf("expected 4000 silence bytes, got %d", len(f.PCM))
	}
}

func TestDriverAbortsOnUnsupportedProfile(t *testing.T) {
	stub := &stubSynth{
		failure: func(int, Request) error {
			return &Error{Kind: FailureUnsupportedProfile, Err: errors.New("xtts cannot blend")}
		},
	}
	d := NewDriver(stub, testProfile(t), testEngineCfg, testSynthCfg(), disabledCache(t), testLogger())

	sink := newCollector()
	_, err := d.Run(context.Background(), testUnits(3), sink.add)
	if err == nil {
		t.Fatal("expected fatal error")
	}
	var serr *Error
	if !errors.As(err, &serr) || serr.Kind != FailureUnsupportedProfile {
		t.Fatalf("expected unsupported-profile error, got %v", err)
	}
	// Only one retry attempt should have happened per dispatched unit.
	if stub.callCount() > 3 {
		t.Fatalf("unsupported profile must not be retried, got %d calls", stub.callCount())
	}
}

func TestDriverUsesFragmentCache(t *testing.T) {
	ctx := context.Background()
	cache, err := fragcache.Open(ctx, config.CacheConfig{Enabled: true, Path: t.TempDir() + "/cache.db"}, testLogger())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	units := testUnits(5)

	first := &stubSynth{}
	d1 := NewDriver(first, testProfile(t), testEngineCfg, testSynthCfg(), cache, testLogger())
	if _, err := d1.Run(ctx, units, newCollector().add); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.callCount() != 5 {
		t.Fatalf("expected 5 backend calls, got %d", first.callCount())
	}

	second := &stubSynth{}
	d2 := NewDriver(second, testProfile(t), testEngineCfg, testSynthCfg(), cache, testLogger())
	stats, err := d2.Run(ctx, units, newCollector().add)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.callCount() != 0 {
		t.Fatalf("expected all cache hits, got %d backend calls", second.callCount())
	}
	if stats.CacheHits != 5 {
		t.Fatalf("expected 5 cache hits, got %d", stats.CacheHits)
	}
}

func TestDriverCacheMissesWhenEngineTuningChanges(t *testing.T) {
	ctx := context.Background()
	cache, err := fragcache.Open(ctx, config.CacheConfig{Enabled: true, Path: t.TempDir() + "/cache.db"}, testLogger())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	units := testUnits(5)

	english := testEngineCfg
	english.Language = "en-us"
	first := &stubSynth{}
	d1 := NewDriver(first, testProfile(t), english, testSynthCfg(), cache, testLogger())
	if _, err := d1.Run(ctx, units, newCollector().add); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Same text and profile, different language: the cached English audio
	// must not be served.
	spanish := testEngineCfg
	spanish.Language = "es"
	second := &stubSynth{}
	d2 := NewDriver(second, testProfile(t), spanish, testSynthCfg(), cache, testLogger())
	stats, err := d2.Run(ctx, units, newCollector().add)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.CacheHits != 0 {
		t.Fatalf("expected no cache hits across languages, got %d", stats.CacheHits)
	}
	if second.callCount() != 5 {
		t.Fatalf("expected 5 backend calls, got %d", second.callCount())
	}
}

func TestDriverStopsDispatchOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	stub := &stubSynth{
		failure: func(call int, _ Request) error {
			if call == 1 {
				cancel()
				close(release)
				return nil
			}
			<-release
			return nil
		},
	}
	cfg := testSynthCfg()
	cfg.Concurrency = 2
	d := NewDriver(stub, testProfile(t), testEngineCfg, cfg, disabledCache(t), testLogger())

	_, err := d.Run(ctx, testUnits(20), newCollector().add)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// With two workers at most two units were in flight when the context was
	// canceled; the remaining units must never be dispatched.
	if stub.callCount() > 3 {
		t.Fatalf("dispatch continued after cancel: %d calls", stub.callCount())
	}
}

func TestMockEngineDeterministic(t *testing.T) {
	m := NewMockEngine(config.EngineConfig{SampleRate: 24000})
	req := Request{Text: "The same text every time.", Profile: testProfile(t), Speed: 1.0}
	a1, err := m.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	a2, err := m.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(a1.PCM) == 0 || len(a1.PCM) != len(a2.PCM) {
		t.Fatalf("expected stable output length, got %d vs %d", len(a1.PCM), len(a2.PCM))
	}
	for i := range a1.PCM {
		if a1.PCM[i] != a2.PCM[i] {
			t.Fatalf("mock output diverged at byte %d", i)
		}
	}
}
