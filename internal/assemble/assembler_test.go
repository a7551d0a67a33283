package assemble

import (
	"bytes"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/fabler-audio/fabler/internal/synth"
)

const rate = 1000 // 1 sample per ms keeps the arithmetic readable

func frag(order, chapter int, paraStart bool, fill byte, samples int) synth.Fragment {
	pcm := bytes.Repeat([]byte{fill, 0}, samples)
	return synth.Fragment{
		PCM:            pcm,
		SampleRate:     rate,
		ChapterID:      chapter,
		OrderIndex:     order,
		ParagraphStart: paraStart,
	}
}

func TestAssembleInOrderWithPauses(t *testing.T) {
	a := New(rate, 100*time.Millisecond, 300*time.Millisecond, map[int]string{0: "One", 1: "Two"})

	fragments := []synth.Fragment{
		frag(0, 0, true, 1, 50),  // first of document: no pause
		frag(1, 0, false, 2, 50), // continuation: no pause
		frag(2, 0, true, 3, 50),  // paragraph start: 100ms pause
		frag(3, 1, true, 4, 50),  // chapter boundary: 300ms pause
	}
	for _, f := range fragments {
		if err := a.Add(f); err != nil {
			t.Fatalf("add %d: %v", f.OrderIndex, err)
		}
	}
	if err := a.Finalize(len(fragments)); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// 4*50ms audio + 100ms + 300ms pauses = 600ms.
	if got := a.Duration(); got != 600*time.Millisecond {
		t.Fatalf("expected 600ms total, got %v", got)
	}

	marks := a.Marks()
	if len(marks) != 2 {
		t.Fatalf("expected 2 chapter marks, got %d", len(marks))
	}
	if marks[0].Start != 0 || marks[0].Title != "One" {
		t.Fatalf("unexpected first mark: %+v", marks[0])
	}
	// Chapter 2 starts after 150ms audio + 100ms pause + 300ms pause... the
	// chapter pause precedes the mark: 50+50+100+50+300 = 550ms.
	if marks[1].Start != 550*time.Millisecond {
		t.Fatalf("expected chapter 2 at 550ms, got %v", marks[1].Start)
	}
	if marks[1].Start <= marks[0].Start {
		t.Fatal("marks not strictly increasing")
	}
}

func TestAssembleReordersOutOfOrderArrivals(t *testing.T) {
	mkFragments := func() []synth.Fragment {
		return []synth.Fragment{
			frag(0, 0, true, 1, 10),
			frag(1, 0, false, 2, 10),
			frag(2, 0, true, 3, 10),
			frag(3, 1, true, 4, 10),
			frag(4, 1, false, 5, 10),
		}
	}

	sequential := New(rate, 20*time.Millisecond, 50*time.Millisecond, nil)
	for _, f := range mkFragments() {
		if err := sequential.Add(f); err != nil {
			t.Fatalf("sequential add: %v", err)
		}
	}

	shuffled := New(rate, 20*time.Millisecond, 50*time.Millisecond, nil)
	fragments := mkFragments()
	rand.New(rand.NewSource(42)).Shuffle(len(fragments), func(i, j int) {
		fragments[i], fragments[j] = fragments[j], fragments[i]
	})
	var wg sync.WaitGroup
	for _, f := range fragments {
		wg.Add(1)
		go func(f synth.Fragment) {
			defer wg.Done()
			if err := shuffled.Add(f); err != nil {
				t.Errorf("shuffled add: %v", err)
			}
		}(f)
	}
	wg.Wait()

	if err := shuffled.Finalize(5); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !bytes.Equal(sequential.PCM(), shuffled.PCM()) {
		t.Fatal("out-of-order assembly diverged from sequential assembly")
	}
	if sequential.Duration() != shuffled.Duration() {
		t.Fatal("durations diverged")
	}
}

func TestAssembleRejectsDuplicates(t *testing.T) {
	a := New(rate, 0, 0, nil)
	if err := a.Add(frag(0, 0, true, 1, 5)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := a.Add(frag(0, 0, true, 1, 5)); err == nil {
		t.Fatal("expected duplicate rejection")
	}
}

func TestAssembleRejectsSampleRateMismatch(t *testing.T) {
	a := New(rate, 0, 0, nil)
	f := frag(0, 0, true, 1, 5)
	f.SampleRate = 8000
	if err := a.Add(f); err == nil {
		t.Fatal("expected sample rate mismatch error")
	}
}

func TestFinalizeDetectsGaps(t *testing.T) {
	a := New(rate, 0, 0, nil)
	if err := a.Add(frag(1, 0, true, 1, 5)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := a.Finalize(2); err == nil {
		t.Fatal("expected finalize to report missing fragment 0")
	}
}
