package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"

	"github.com/fabler-audio/fabler/internal/config"
	"github.com/mattn/go-shellwords"
)

// execEngine shells out to a synthesis process per request. The process reads
// one JSON request on stdin and writes one JSON response on stdout, which
// keeps the model runtime (Python, CUDA, weights) outside this binary.
type execEngine struct {
	name       string
	cmd        []string
	sampleRate int
	language   string
	modelPath  string
	speakerArg bool // single speaker name instead of weighted components
}

type execVoice struct {
	ID     string  `json:"id"`
	Weight float64 `json:"weight"`
}

type execRequest struct {
	Text       string      `json:"text"`
	Voices     []execVoice `json:"voices,omitempty"`
	Speaker    string      `json:"speaker,omitempty"`
	Speed      float64     `json:"speed"`
	SampleRate int         `json:"sample_rate"`
	Language   string      `json:"language,omitempty"`
	ModelPath  string      `json:"model_path,omitempty"`
}

type execResponse struct {
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate"`
	Error      *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewKokoroEngine returns the Kokoro exec backend. Kokoro blends voices by
// summing weighted embedding tensors, so any profile is accepted.
func NewKokoroEngine(cfg config.EngineConfig) (Synthesizer, error) {
	return newExecEngine("kokoro", cfg, false)
}

// NewXTTSEngine returns the XTTS exec backend. XTTS renders a single named
// speaker and rejects blended profiles.
func NewXTTSEngine(cfg config.EngineConfig) (Synthesizer, error) {
	return newExecEngine("xtts", cfg, true)
}

func newExecEngine(name string, cfg config.EngineConfig, speakerArg bool) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse %s command: %w", name, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s command empty", name)
	}
	return &execEngine{
		name:       name,
		cmd:        args,
		sampleRate: cfg.SampleRate,
		language:   cfg.Language,
		modelPath:  cfg.ModelPath,
		speakerArg: speakerArg,
	}, nil
}

func (e *execEngine) Name() string { return e.name }

func (e *execEngine) Synthesize(ctx context.Context, req Request) (Audio, error) {
	payload := execRequest{
		Text:       req.Text,
		Speed:      req.Speed,
		SampleRate: e.sampleRate,
		Language:   e.language,
		ModelPath:  e.modelPath,
	}
	if e.speakerArg {
		if !req.Profile.Single() {
			return Audio{}, &Error{
				Kind: FailureUnsupportedProfile,
				Err:  fmt.Errorf("%s renders a single speaker, got blend %s", e.name, req.Profile),
			}
		}
		payload.Speaker = req.Profile.Components[0].ID
	} else {
		for _, c := range req.Profile.Components {
			payload.Voices = append(payload.Voices, execVoice{ID: c.ID, Weight: c.Weight})
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Audio{}, &Error{Kind: FailureOther, Err: err}
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Audio{}, &Error{Kind: FailureTimeout, Err: ctx.Err()}
		}
		return Audio{}, &Error{Kind: FailureOther, Err: fmt.Errorf("%s command failed: %w: %s", e.name, err, stderr.String())}
	}

	var resp execResponse
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return Audio{}, &Error{Kind: FailureOther, Err: fmt.Errorf("decode %s response: %w", e.name, err)}
	}
	if resp.Error != nil {
		return Audio{}, &Error{Kind: failureKindFromString(resp.Error.Kind), Err: errors.New(resp.Error.Message)}
	}

	pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
	if err != nil {
		return Audio{}, &Error{Kind: FailureOther, Err: fmt.Errorf("decode %s pcm: %w", e.name, err)}
	}
	rate := resp.SampleRate
	if rate == 0 {
		rate = e.sampleRate
	}
	return Audio{PCM: pcm, SampleRate: rate}, nil
}

func failureKindFromString(kind string) FailureKind {
	switch kind {
	case "timeout":
		return FailureTimeout
	case "resource_exhausted":
		return FailureResourceExhausted
	case "unsupported_profile":
		return FailureUnsupportedProfile
	default:
		return FailureOther
	}
}

// New builds the synthesizer selected by configuration.
func New(cfg config.EngineConfig) (Synthesizer, error) {
	switch cfg.Name {
	case "mock":
		return NewMockEngine(cfg), nil
	case "kokoro":
		return NewKokoroEngine(cfg)
	case "xtts":
		return NewXTTSEngine(cfg)
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Name)
	}
}
