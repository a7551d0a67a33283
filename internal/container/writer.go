// Package container writes the assembled narration into its final audio
// container: plain WAV, or M4B muxed by ffmpeg with an embedded chapter
// table, book metadata, and cover art.
package container

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"

	"github.com/fabler-audio/fabler/internal/assemble"
	"github.com/fabler-audio/fabler/internal/config"
)

// ErrWrite indicates a filesystem or encoding failure while producing the
// output file. It is fatal and no partial output is left behind.
var ErrWrite = errors.New("write failed")

// Metadata carries book-level tags for the output container.
type Metadata struct {
	Title  string
	Author string
	Cover  []byte
}

// Writer produces the final audio file. All intermediate artifacts live in a
// temporary directory next to the destination; the output is renamed into
// place only on full success.
type Writer struct {
	format  string
	ffmpeg  []string
	bitrate string
	logger  *slog.Logger
}

func NewWriter(cfg config.OutputConfig, log *slog.Logger) (*Writer, error) {
	w := &Writer{
		format:  cfg.Format,
		bitrate: cfg.Bitrate,
		logger:  log.With(slog.String("component", "container-writer")),
	}
	if cfg.Format == "m4b" {
		parser := shellwords.NewParser()
		args, err := parser.Parse(cfg.FFmpegCommand)
		if err != nil {
			return nil, fmt.Errorf("parse ffmpeg command: %w", err)
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("ffmpeg command empty")
		}
		w.ffmpeg = args
	}
	return w, nil
}

// Write encodes pcm (s16le mono) into the destination path and returns the
// path written.
func (w *Writer) Write(ctx context.Context, outPath string, pcm []byte, sampleRate int, marks []assemble.ChapterMark, total time.Duration, md Metadata) (string, error) {
	destDir := filepath.Dir(outPath)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}
	workDir, err := os.MkdirTemp(destDir, ".fabler-work-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}
	defer os.RemoveAll(workDir)

	wavPath := filepath.Join(workDir, "narration.wav")
	if err := writeWAV(wavPath, pcm, sampleRate); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}

	if w.format == "wav" {
		if err := os.Rename(wavPath, outPath); err != nil {
			return "", fmt.Errorf("%w: %v", ErrWrite, err)
		}
		return outPath, nil
	}

	muxPath, err := w.muxM4B(ctx, workDir, wavPath, marks, total, md)
	if err != nil {
		return "", err
	}
	if err := os.Rename(muxPath, outPath); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return outPath, nil
}

func (w *Writer) muxM4B(ctx context.Context, workDir, wavPath string, marks []assemble.ChapterMark, total time.Duration, md Metadata) (string, error) {
	metaPath := filepath.Join(workDir, "metadata.txt")
	if err := os.WriteFile(metaPath, []byte(FFMetadata(marks, total, md)), 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}

	outPath := filepath.Join(workDir, "narration.m4b")
	args := append([]string{}, w.ffmpeg[1:]...)
	args = append(args, "-y", "-i", wavPath, "-i", metaPath)

	coverPath := ""
	if len(md.Cover) > 0 {
		coverPath = filepath.Join(workDir, "cover"+coverExt(md.Cover))
		if err := os.WriteFile(coverPath, md.Cover, 0o644); err != nil {
			return "", fmt.Errorf("%w: %v", ErrWrite, err)
		}
		args = append(args, "-i", coverPath)
	}

	args = append(args, "-map_metadata", "1", "-map", "0:a")
	if coverPath != "" {
		args = append(args, "-map", "2:v", "-c:v", "copy", "-disposition:v:0", "attached_pic")
	}
	args = append(args, "-c:a", "aac", "-b:a", w.bitrate, "-movflags", "+faststart")
	if md.Title != "" {
		args = append(args, "-metadata", "title="+md.Title)
	}
	if md.Author != "" {
		args = append(args, "-metadata", "artist="+md.Author)
	}
	args = append(args, outPath)

	cmd := exec.CommandContext(ctx, w.ffmpeg[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	w.logger.Debug("muxing audiobook", slog.String("command", w.ffmpeg[0]), slog.Int("chapters", len(marks)))
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: ffmpeg: %v: %s", ErrWrite, err, stderr.String())
	}
	return outPath, nil
}

// FFMetadata renders the ffmpeg FFMETADATA1 file with the chapter table.
// Chapter ends are the next chapter's start, or the total duration for the
// last one.
func FFMetadata(marks []assemble.ChapterMark, total time.Duration, md Metadata) string {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	if md.Title != "" {
		fmt.Fprintf(&b, "title=%s\n", escapeFFMeta(md.Title))
	}
	if md.Author != "" {
		fmt.Fprintf(&b, "artist=%s\n", escapeFFMeta(md.Author))
	}
	b.WriteString("\n")

	for i, mark := range marks {
		end := total
		if i+1 < len(marks) {
			end = marks[i+1].Start
		}
		b.WriteString("[CHAPTER]\n")
		b.WriteString("TIMEBASE=1/1000\n")
		fmt.Fprintf(&b, "START=%d\n", mark.Start.Milliseconds())
		fmt.Fprintf(&b, "END=%d\n", end.Milliseconds())
		fmt.Fprintf(&b, "title=%s\n\n", escapeFFMeta(mark.Title))
	}
	return b.String()
}

// escapeFFMeta escapes the characters the ffmetadata format treats specially.
func escapeFFMeta(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "=", `\=`, ";", `\;`, "#", `\#`, "\n", `\`+"\n")
	return r.Replace(s)
}

func coverExt(data []byte) string {
	if http.DetectContentType(data) == "image/png" {
		return ".png"
	}
	return ".jpg"
}

func writeWAV(path string, pcm []byte, sampleRate int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, len(pcm)/2),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}
