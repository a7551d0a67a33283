package synth

import (
	"context"
	"fmt"

	"github.com/fabler-audio/fabler/internal/voice"
)

// FailureKind classifies backend failures for the retry policy.
type FailureKind int

const (
	// FailureTimeout and FailureResourceExhausted are transient: the driver
	// retries them with backoff.
	FailureTimeout FailureKind = iota
	FailureResourceExhausted
	// FailureUnsupportedProfile means the engine cannot render the requested
	// voice profile (e.g. a blend on a single-speaker engine). It is a
	// configuration error and aborts the run.
	FailureUnsupportedProfile
	FailureOther
)

func (k FailureKind) String() string {
	switch k {
	case FailureTimeout:
		return "timeout"
	case FailureResourceExhausted:
		return "resource-exhausted"
	case FailureUnsupportedProfile:
		return "unsupported-voice-profile"
	default:
		return "other"
	}
}

// Error is a classified synthesis backend failure.
type Error struct {
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("synthesis failed: %s", e.Kind)
	}
	return fmt.Sprintf("synthesis failed (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying.
func (e *Error) Transient() bool {
	return e.Kind == FailureTimeout || e.Kind == FailureResourceExhausted
}

// Request carries one narration unit to the backend.
type Request struct {
	Text    string
	Profile voice.Profile
	Speed   float64
}

// Audio is the raw result of one synthesis call: signed 16-bit little-endian
// mono PCM.
type Audio struct {
	PCM        []byte
	SampleRate int
}

// Duration returns the audio length given its sample rate.
func (a Audio) Duration() float64 {
	if a.SampleRate <= 0 {
		return 0
	}
	return float64(len(a.PCM)/2) / float64(a.SampleRate)
}

// Synthesizer is the capability contract for producing audio from text and a
// voice profile. Implementations must be safe for concurrent use.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (Audio, error)
}

// Fragment is synthesized audio tagged with its position in the document.
// Fragments are handed to the assembler and released after concatenation.
type Fragment struct {
	PCM            []byte
	SampleRate     int
	ChapterID      int
	OrderIndex     int
	ParagraphStart bool
	Silence        bool
}
