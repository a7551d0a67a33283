// Package assemble re-serializes synthesized fragments into one continuous
// audio stream with pacing silence and chapter marks.
package assemble

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/fabler-audio/fabler/internal/synth"
)

// ChapterMark is a timestamped chapter boundary in the output audio.
type ChapterMark struct {
	ChapterID int
	Title     string
	Start     time.Duration
}

// Assembler concatenates fragments strictly by order index, buffering
// out-of-order arrivals from the driver's worker pool. The holding map is
// naturally bounded by the pool size: a worker can only complete one
// fragment ahead of the serial cursor per in-flight slot.
//
// Silence is inserted before each paragraph-start fragment (except the very
// first of the document) and a longer gap at chapter transitions, where a
// ChapterMark is recorded at the offset the chapter begins.
type Assembler struct {
	mu             sync.Mutex
	sampleRate     int
	paragraphPause time.Duration
	chapterPause   time.Duration
	titles         map[int]string

	next        int
	pending     map[int]synth.Fragment
	pcm         bytes.Buffer
	samples     int64
	marks       []ChapterMark
	lastChapter int
	started     bool
}

func New(sampleRate int, paragraphPause, chapterPause time.Duration, chapterTitles map[int]string) *Assembler {
	return &Assembler{
		sampleRate:     sampleRate,
		paragraphPause: paragraphPause,
		chapterPause:   chapterPause,
		titles:         chapterTitles,
		pending:        make(map[int]synth.Fragment),
	}
}

// Add accepts a completed fragment in any order. Safe for concurrent use.
func (a *Assembler) Add(f synth.Fragment) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if f.OrderIndex < a.next {
		return fmt.Errorf("fragment %d already assembled", f.OrderIndex)
	}
	if _, dup := a.pending[f.OrderIndex]; dup {
		return fmt.Errorf("duplicate fragment %d", f.OrderIndex)
	}
	a.pending[f.OrderIndex] = f

	for {
		ready, ok := a.pending[a.next]
		if !ok {
			return nil
		}
		delete(a.pending, a.next)
		if err := a.appendFragment(ready); err != nil {
			return err
		}
		a.next++
	}
}

func (a *Assembler) appendFragment(f synth.Fragment) error {
	if f.SampleRate != a.sampleRate {
		return fmt.Errorf("fragment %d: sample rate %d, assembler expects %d", f.OrderIndex, f.SampleRate, a.sampleRate)
	}

	switch {
	case !a.started:
		a.started = true
		a.lastChapter = f.ChapterID
		a.mark(f.ChapterID)
	case f.ChapterID != a.lastChapter:
		a.appendSilence(a.chapterPause)
		a.lastChapter = f.ChapterID
		a.mark(f.ChapterID)
	case f.ParagraphStart:
		a.appendSilence(a.paragraphPause)
	}

	a.pcm.Write(f.PCM)
	a.samples += int64(len(f.PCM) / 2)
	return nil
}

func (a *Assembler) mark(chapterID int) {
	a.marks = append(a.marks, ChapterMark{
		ChapterID: chapterID,
		Title:     a.titles[chapterID],
		Start:     a.offset(),
	})
}

func (a *Assembler) appendSilence(d time.Duration) {
	samples := int64(d) * int64(a.sampleRate) / int64(time.Second)
	if samples <= 0 {
		return
	}
	a.pcm.Write(make([]byte, samples*2))
	a.samples += samples
}

func (a *Assembler) offset() time.Duration {
	return time.Duration(a.samples * int64(time.Second) / int64(a.sampleRate))
}

// Finalize verifies every fragment up to expected count has been assembled.
func (a *Assembler) Finalize(expected int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) > 0 {
		return fmt.Errorf("%d fragments still pending at finalize", len(a.pending))
	}
	if a.next != expected {
		return fmt.Errorf("assembled %d fragments, expected %d", a.next, expected)
	}
	return nil
}

// PCM returns the concatenated audio stream.
func (a *Assembler) PCM() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pcm.Bytes()
}

// Marks returns the accumulated chapter marks in order.
func (a *Assembler) Marks() []ChapterMark {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ChapterMark(nil), a.marks...)
}

// Duration returns the total assembled length, fragments plus pauses.
func (a *Assembler) Duration() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offset()
}
