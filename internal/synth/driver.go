package synth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/fabler-audio/fabler/internal/book"
	"github.com/fabler-audio/fabler/internal/config"
	"github.com/fabler-audio/fabler/internal/fragcache"
	"github.com/fabler-audio/fabler/internal/voice"
)

// UnitFailure records a unit that was replaced with silence after its backend
// calls failed.
type UnitFailure struct {
	OrderIndex int
	ChapterID  int
	Attempts   int
	Reason     string
}

// Stats summarizes one driver run for end-of-run reporting.
type Stats struct {
	Synthesized        int
	CacheHits          int
	SilenceSubstituted int
	Retries            int
	Failures           []UnitFailure
}

// Driver dispatches narration units to the synthesis backend with a bounded
// worker pool. Completed fragments are handed to emit in completion order;
// the assembler re-serializes them by order index.
type Driver struct {
	synth     Synthesizer
	profile   voice.Profile
	cfg       config.SynthesisConfig
	engineCfg config.EngineConfig
	cache     *fragcache.Store
	logger    *slog.Logger

	mu    sync.Mutex
	stats Stats
}

func NewDriver(s Synthesizer, profile voice.Profile, engineCfg config.EngineConfig, cfg config.SynthesisConfig, cache *fragcache.Store, log *slog.Logger) *Driver {
	return &Driver{
		synth:     s,
		profile:   profile,
		cfg:       cfg,
		engineCfg: engineCfg,
		cache:     cache,
		logger:    log.With(slog.String("component", "synthesis-driver")),
	}
}

// Run synthesizes every unit and emits one fragment per unit. A fatal backend
// error (unsupported voice profile) or cancellation aborts the run; all other
// failures degrade to silence substitution and are reported in Stats.
func (d *Driver) Run(ctx context.Context, units []book.NarrationUnit, emit func(Fragment) error) (Stats, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)

	for _, unit := range units {
		if gctx.Err() != nil {
			break
		}
		unit := unit
		g.Go(func() error {
			frag, err := d.processUnit(gctx, unit)
			if err != nil {
				return err
			}
			return emit(frag)
		})
	}

	err := g.Wait()
	if err == nil {
		// In-flight units may finish cleanly after a cancel; the run is
		// still aborted.
		err = ctx.Err()
	}
	d.mu.Lock()
	stats := d.stats
	d.mu.Unlock()
	return stats, err
}

func (d *Driver) processUnit(ctx context.Context, unit book.NarrationUnit) (Fragment, error) {
	frag := Fragment{
		ChapterID:      unit.ChapterID,
		OrderIndex:     unit.OrderIndex,
		ParagraphStart: unit.ParagraphStart,
	}

	key := fragcache.Key(d.synth.Name(), d.profile.String(), d.engineCfg, unit.Text)
	if pcm, rate, ok := d.cacheGet(ctx, key); ok {
		d.count(func(s *Stats) { s.CacheHits++ })
		frag.PCM = pcm
		frag.SampleRate = rate
		return frag, nil
	}

	audio, attempts, err := d.synthesizeWithRetry(ctx, unit.Text)
	if err != nil {
		var serr *Error
		if errors.As(err, &serr) && serr.Kind == FailureUnsupportedProfile {
			return Fragment{}, err
		}
		if ctx.Err() != nil {
			return Fragment{}, ctx.Err()
		}
		// Degraded path: substitute silence of a duration proportional to the
		// text length so the audiobook timeline stays aligned.
		d.logger.Warn("unit replaced with silence",
			slog.Int("order_index", unit.OrderIndex),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()))
		d.count(func(s *Stats) {
			s.SilenceSubstituted++
			s.Failures = append(s.Failures, UnitFailure{
				OrderIndex: unit.OrderIndex,
				ChapterID:  unit.ChapterID,
				Attempts:   attempts,
				Reason:     err.Error(),
			})
		})
		frag.PCM = d.silenceFor(unit.Text)
		frag.SampleRate = d.engineCfg.SampleRate
		frag.Silence = true
		return frag, nil
	}

	d.count(func(s *Stats) { s.Synthesized++ })
	d.cachePut(ctx, key, audio)
	frag.PCM = audio.PCM
	frag.SampleRate = audio.SampleRate
	return frag, nil
}

func (d *Driver) synthesizeWithRetry(ctx context.Context, text string) (Audio, int, error) {
	attempts := 0
	operation := func() (Audio, error) {
		attempts++
		if attempts > 1 {
			d.count(func(s *Stats) { s.Retries++ })
		}
		tctx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.RequestTimeoutMS)*time.Millisecond)
		defer cancel()

		audio, err := d.synth.Synthesize(tctx, Request{Text: text, Profile: d.profile, Speed: d.engineCfg.Speed})
		if err != nil {
			var serr *Error
			if errors.As(err, &serr) && serr.Transient() {
				return Audio{}, err
			}
			return Audio{}, backoff.Permanent(err)
		}
		return audio, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = time.Duration(d.cfg.RetryBaseMS) * time.Millisecond

	audio, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(d.cfg.MaxRetries+1)))
	return audio, attempts, err
}

// silenceFor sizes a silent fragment from the text the backend failed to
// speak, using the configured reading rate.
func (d *Driver) silenceFor(text string) []byte {
	chars := utf8.RuneCountInString(text)
	seconds := float64(chars) / float64(d.cfg.SilenceCharsPerS)
	samples := int(seconds * float64(d.engineCfg.SampleRate))
	if samples < 1 {
		samples = 1
	}
	return make([]byte, samples*2)
}

func (d *Driver) cacheGet(ctx context.Context, key string) ([]byte, int, bool) {
	pcm, rate, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		d.logger.Warn("fragment cache read failed", slog.String("error", err.Error()))
		return nil, 0, false
	}
	return pcm, rate, ok
}

func (d *Driver) cachePut(ctx context.Context, key string, audio Audio) {
	if err := d.cache.Put(ctx, key, audio.SampleRate, audio.PCM); err != nil {
		d.logger.Warn("fragment cache write failed", slog.String("error", err.Error()))
	}
}

func (d *Driver) count(fn func(*Stats)) {
	d.mu.Lock()
	fn(&d.stats)
	d.mu.Unlock()
}
