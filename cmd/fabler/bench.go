package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fabler-audio/fabler/internal/book"
	"github.com/fabler-audio/fabler/internal/config"
	"github.com/fabler-audio/fabler/internal/synth"
	"github.com/fabler-audio/fabler/internal/voice"
)

// Public-domain excerpts of varied register, so the benchmark exercises the
// segmenter and the engines on realistic prose.
var benchPassages = []string{
	`It was the best of times, it was the worst of times, it was the age of wisdom, it was the age of foolishness, it was the epoch of belief, it was the epoch of incredulity, it was the season of light, it was the season of darkness, it was the spring of hope, it was the winter of despair.`,
	`Sing, O goddess, the anger of Achilles son of Peleus, that brought countless ills upon the Achaeans. Many a brave soul did it send hurrying down to Hades, and many a hero did it yield a prey to dogs and vultures, for so were the counsels of Jove fulfilled.`,
	`It was a bright cold day in April, and the clocks were striking thirteen. Winston Smith, his chin nuzzled into his breast in an effort to escape the vile wind, slipped quickly through the glass doors of Victory Mansions.`,
}

// runBench synthesizes the sample passages once per requested engine and
// prints generation time, audio produced, and the real-time factor.
func runBench(ctx context.Context, cfg config.Config, engines []string) error {
	reg := voice.NewRegistry()
	if cfg.Voice.VoicesFile != "" {
		if err := reg.LoadFile(cfg.Voice.VoicesFile); err != nil {
			return err
		}
	}
	profile, err := voice.Resolve(cfg.Voice.Expression, reg)
	if err != nil {
		return err
	}

	chapter := book.Chapter{Title: "Benchmark"}
	for _, p := range benchPassages {
		chapter.Blocks = append(chapter.Blocks, book.Block{Kind: book.KindParagraph, Text: p})
	}
	units := book.BuildUnits(&book.Document{Chapters: []book.Chapter{chapter}}, cfg.Text.MaxUnitLength)

	fmt.Printf("benchmarking %d units of sample text, voice %s\n", len(units), profile)
	for _, name := range engines {
		engineCfg := cfg.Engine
		engineCfg.Name = strings.TrimSpace(name)
		engine, err := synth.New(engineCfg)
		if err != nil {
			return err
		}
		res, err := synth.Benchmark(ctx, engine, profile, engineCfg.Speed, units)
		if err != nil {
			return fmt.Errorf("engine %s: %w", engineCfg.Name, err)
		}
		fmt.Printf("%-8s generation %6.2fs  audio %6.2fs  rtf %.3fx\n",
			res.Engine, res.Elapsed.Seconds(), res.Audio.Seconds(), res.RealTimeFactor)
	}
	return nil
}
