// Package pipeline wires the conversion stages together: document
// extraction, unit construction, voice resolution, synthesis, assembly and
// container writing. It owns the run report and the telemetry around a run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fabler-audio/fabler/internal/assemble"
	"github.com/fabler-audio/fabler/internal/book"
	"github.com/fabler-audio/fabler/internal/config"
	"github.com/fabler-audio/fabler/internal/container"
	"github.com/fabler-audio/fabler/internal/fragcache"
	"github.com/fabler-audio/fabler/internal/synth"
	"github.com/fabler-audio/fabler/internal/voice"
)

const instrumentationName = "github.com/fabler-audio/fabler/internal/pipeline"

// Report summarizes one completed conversion run.
type Report struct {
	RunID              string
	OutputPath         string
	Duration           time.Duration
	Chapters           int
	Units              int
	Synthesized        int
	CacheHits          int
	SilenceSubstituted int
	Truncated          int
	Retries            int
	Failures           []synth.UnitFailure
}

type runMetrics struct {
	units       metric.Int64Counter
	cacheHits   metric.Int64Counter
	silenced    metric.Int64Counter
	retries     metric.Int64Counter
	runDuration metric.Float64Histogram
}

// Pipeline converts one document per Run call. It is safe to reuse for
// several inputs; the fragment cache and engine are shared across runs.
type Pipeline struct {
	cfg    config.Config
	logger *slog.Logger
	engine synth.Synthesizer
	reg    *voice.Registry
	cache  *fragcache.Store
	tracer trace.Tracer
	met    runMetrics

	progressTotal atomic.Int64
	progressDone  atomic.Int64
	currentRun    atomic.Value // string
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Pipeline, error) {
	engine, err := synth.New(cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis engine: %w", err)
	}

	reg := voice.NewRegistry()
	if cfg.Voice.VoicesFile != "" {
		if err := reg.LoadFile(cfg.Voice.VoicesFile); err != nil {
			return nil, fmt.Errorf("failed to load voices file: %w", err)
		}
	}

	cache, err := fragcache.Open(ctx, cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open fragment cache: %w", err)
	}
	if err := cache.Prune(ctx); err != nil {
		logger.Warn("fragment cache prune failed", slog.String("error", err.Error()))
	}

	met, err := newRunMetrics()
	if err != nil {
		cache.Close()
		return nil, err
	}

	return &Pipeline{
		cfg:    cfg,
		logger: logger,
		engine: engine,
		reg:    reg,
		cache:  cache,
		tracer: otel.Tracer(instrumentationName),
		met:    met,
	}, nil
}

func newRunMetrics() (runMetrics, error) {
	meter := otel.Meter(instrumentationName)
	var m runMetrics
	var err error
	if m.units, err = meter.Int64Counter("fabler.units.total",
		metric.WithDescription("Narration units produced from input documents")); err != nil {
		return m, err
	}
	if m.cacheHits, err = meter.Int64Counter("fabler.cache.hits",
		metric.WithDescription("Synthesis requests served from the fragment cache")); err != nil {
		return m, err
	}
	if m.silenced, err = meter.Int64Counter("fabler.units.silence_substituted",
		metric.WithDescription("Units replaced with silence after exhausted retries")); err != nil {
		return m, err
	}
	if m.retries, err = meter.Int64Counter("fabler.synthesis.retries",
		metric.WithDescription("Transient synthesis failures that were retried")); err != nil {
		return m, err
	}
	if m.runDuration, err = meter.Float64Histogram("fabler.run.duration_seconds",
		metric.WithDescription("Wall-clock duration of conversion runs")); err != nil {
		return m, err
	}
	return m, nil
}

func (p *Pipeline) Close() error {
	return p.cache.Close()
}

// Progress reports how far the current run has gotten, for the status
// endpoint.
func (p *Pipeline) Progress() Progress {
	runID, _ := p.currentRun.Load().(string)
	return Progress{
		RunID:     runID,
		Total:     p.progressTotal.Load(),
		Completed: p.progressDone.Load(),
	}
}

// Run converts the document at inputPath into an audiobook in the configured
// output directory and returns the run report.
func (p *Pipeline) Run(ctx context.Context, inputPath string) (*Report, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("input.path", inputPath)))
	defer span.End()

	_, extractSpan := p.tracer.Start(ctx, "pipeline.extract")
	doc, err := book.Extract(inputPath, p.cfg.Text.MinChapterChars)
	extractSpan.End()
	if err != nil {
		return nil, err
	}
	return p.runDocument(ctx, doc, outputName(inputPath))
}

// RunDocument converts an already extracted document. Run is the normal
// entry point; this one exists for callers that produce documents from
// sources other than EPUB files.
func (p *Pipeline) RunDocument(ctx context.Context, doc *book.Document, name string) (*Report, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run")
	defer span.End()
	return p.runDocument(ctx, doc, name)
}

func (p *Pipeline) runDocument(ctx context.Context, doc *book.Document, name string) (*Report, error) {
	started := time.Now()
	runID := uuid.NewString()
	p.currentRun.Store(runID)
	log := p.logger.With(slog.String("run_id", runID))

	profile, err := voice.Resolve(p.cfg.Voice.Expression, p.reg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve voice expression %q: %w", p.cfg.Voice.Expression, err)
	}

	units := book.BuildUnits(doc, p.cfg.Text.MaxUnitLength)
	truncated := 0
	for _, u := range units {
		if u.Truncated {
			truncated++
		}
	}
	p.progressTotal.Store(int64(len(units)))
	p.progressDone.Store(0)

	log.Info("document prepared",
		slog.String("title", doc.Title),
		slog.Int("chapters", len(doc.Chapters)),
		slog.Int("units", len(units)),
		slog.String("voice", profile.String()))

	titles := make(map[int]string, len(doc.Chapters))
	for _, ch := range doc.Chapters {
		titles[ch.ID] = ch.Title
	}
	assembler := assemble.New(
		p.cfg.Engine.SampleRate,
		time.Duration(p.cfg.Pacing.ParagraphPauseMS)*time.Millisecond,
		time.Duration(p.cfg.Pacing.ChapterPauseMS)*time.Millisecond,
		titles,
	)

	driver := synth.NewDriver(p.engine, profile, p.cfg.Engine, p.cfg.Synthesis, p.cache, log)
	synthCtx, synthSpan := p.tracer.Start(ctx, "pipeline.synthesize",
		trace.WithAttributes(attribute.Int("units", len(units))))
	stats, err := driver.Run(synthCtx, units, func(f synth.Fragment) error {
		p.progressDone.Add(1)
		return assembler.Add(f)
	})
	synthSpan.End()
	if err != nil {
		return nil, err
	}
	if err := assembler.Finalize(len(units)); err != nil {
		return nil, err
	}

	writer, err := container.NewWriter(p.cfg.Output, log)
	if err != nil {
		return nil, err
	}
	outPath := filepath.Join(p.cfg.Output.Directory, name+"."+p.cfg.Output.Format)
	_, writeSpan := p.tracer.Start(ctx, "pipeline.write")
	written, err := writer.Write(ctx, outPath, assembler.PCM(), p.cfg.Engine.SampleRate, assembler.Marks(), assembler.Duration(), container.Metadata{
		Title:  doc.Title,
		Author: doc.Author,
		Cover:  doc.Cover,
	})
	writeSpan.End()
	if err != nil {
		return nil, err
	}

	p.met.units.Add(ctx, int64(len(units)))
	p.met.cacheHits.Add(ctx, int64(stats.CacheHits))
	p.met.silenced.Add(ctx, int64(stats.SilenceSubstituted))
	p.met.retries.Add(ctx, int64(stats.Retries))
	p.met.runDuration.Record(ctx, time.Since(started).Seconds())

	report := &Report{
		RunID:              runID,
		OutputPath:         written,
		Duration:           assembler.Duration(),
		Chapters:           len(doc.Chapters),
		Units:              len(units),
		Synthesized:        stats.Synthesized,
		CacheHits:          stats.CacheHits,
		SilenceSubstituted: stats.SilenceSubstituted,
		Truncated:          truncated,
		Retries:            stats.Retries,
		Failures:           stats.Failures,
	}

	log.Info("conversion complete",
		slog.String("output", report.OutputPath),
		slog.Duration("audio_duration", report.Duration),
		slog.Int("units", report.Units),
		slog.Int("synthesized", report.Synthesized),
		slog.Int("cache_hits", report.CacheHits),
		slog.Duration("elapsed", time.Since(started)))
	if report.SilenceSubstituted > 0 {
		log.Warn("some units were replaced with silence",
			slog.Int("count", report.SilenceSubstituted))
	}
	if report.Truncated > 0 {
		log.Warn("some units were truncated to the maximum unit length",
			slog.Int("count", report.Truncated))
	}

	return report, nil
}

func outputName(inputPath string) string {
	base := filepath.Base(inputPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
