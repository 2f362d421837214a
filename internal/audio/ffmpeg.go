package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/smap/stt-worker/internal/stterr"
)

// supportedExtensions is the audio container allow-list. Anything else is
// rejected before ffmpeg is invoked.
var supportedExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".mp4":  true,
	".ogg":  true,
	".opus": true,
	".flac": true,
	".aac":  true,
	".wma":  true,
	".webm": true,
}

// silenceFloorAdjustDB is subtracted from the configured silence threshold
// before it is handed to ffmpeg. The silencedetect filter measures against
// a noise floor rather than perceived loudness, so the raw threshold cuts
// mid-word on quiet recordings.
const silenceFloorAdjustDB = 10.0

var (
	durationRe      = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)
	silenceStartRe  = regexp.MustCompile(`silence_start:\s*(-?[\d.]+)`)
	silenceEndRe    = regexp.MustCompile(`silence_end:\s*(-?[\d.]+)`)
	invalidDataMark = "Invalid data found when processing input"
)

// Compile-time check that FFmpegChunker implements Chunker.
var _ Chunker = (*FFmpegChunker)(nil)

// FFmpegChunker implements Chunker using the ffmpeg CLI. Silence detection
// streams through ffmpeg's stderr, so audio never has to be decoded into
// memory regardless of file size.
type FFmpegChunker struct {
	ffmpegPath string
}

// NewFFmpegChunker creates a new FFmpegChunker.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
func NewFFmpegChunker(ffmpegPath string) *FFmpegChunker {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegChunker{ffmpegPath: ffmpegPath}
}

// Chunk validates the audio file, cuts it per policy, and extracts one
// 16 kHz mono WAV per segment into outDir.
func (c *FFmpegChunker) Chunk(ctx context.Context, audioPath, outDir string, policy Policy) ([]Segment, error) {
	if err := ValidateFormat(audioPath); err != nil {
		return nil, err
	}
	if _, err := os.Stat(audioPath); err != nil {
		return nil, stterr.Permanentf(stterr.KindCorruptedAudio, "audio file missing: %s", audioPath)
	}

	duration, err := c.Duration(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, stterr.Permanentf(stterr.KindCorruptedAudio, "audio has zero duration: %s", audioPath)
	}

	var candidates []Range
	if policy.Strategy == StrategyFixed {
		candidates = fixedRanges(duration, policy.ChunkDurationSec)
	} else {
		silences, err := c.detectSilences(ctx, audioPath, policy)
		if err != nil {
			return nil, err
		}
		candidates = invertSilences(silences, duration)
		if len(candidates) == 0 {
			candidates = fixedRanges(duration, policy.ChunkDurationSec)
		}
	}

	ranges := applyPolicy(candidates, duration, policy)
	if len(ranges) == 0 {
		// Everything was filtered out; fall back to fixed cuts so very
		// short or very quiet audio still gets transcribed.
		ranges = applyPolicy(fixedRanges(duration, policy.ChunkDurationSec), duration, policy)
	}
	if len(ranges) == 0 {
		return nil, stterr.Permanentf(stterr.KindCorruptedAudio,
			"no usable audio in %s (%.1fs)", audioPath, duration)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk directory: %w", err)
	}

	segments := make([]Segment, 0, len(ranges))
	for i, r := range ranges {
		outPath := filepath.Join(outDir, fmt.Sprintf("chunk_%03d.wav", i))
		if err := c.extractSegment(ctx, audioPath, outPath, r.StartSec, r.EndSec-r.StartSec); err != nil {
			for _, seg := range segments {
				os.Remove(seg.Path)
			}
			return nil, err
		}
		segments = append(segments, Segment{
			Index:    i,
			StartSec: r.StartSec,
			EndSec:   r.EndSec,
			Path:     outPath,
		})
	}
	return segments, nil
}

// ValidateFormat checks the file extension against the supported
// container allow-list.
func ValidateFormat(audioPath string) error {
	ext := strings.ToLower(filepath.Ext(audioPath))
	if !supportedExtensions[ext] {
		return stterr.Permanentf(stterr.KindInvalidAudioFormat, "unsupported audio format %q", ext)
	}
	return nil
}

// Duration returns the audio duration in seconds, parsed from ffmpeg's
// stderr banner.
func (c *FFmpegChunker) Duration(ctx context.Context, audioPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-hide_banner",
		"-i", audioPath,
		"-f", "null", "-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// ffmpeg exits non-zero for a null muxer run; the stderr text decides
	// whether the input itself was readable.
	runErr := cmd.Run()
	output := stderr.String()
	if runErr != nil {
		if isBinaryMissing(runErr) {
			return 0, stterr.Permanentf(stterr.KindMissingDependency, "ffmpeg not found: %v", runErr)
		}
		if strings.Contains(output, invalidDataMark) {
			return 0, stterr.Permanentf(stterr.KindCorruptedAudio, "ffmpeg cannot decode %s", audioPath)
		}
	}

	d, ok := parseDuration(output)
	if !ok {
		return 0, stterr.Permanentf(stterr.KindCorruptedAudio, "no duration in ffmpeg output for %s", audioPath)
	}
	return d, nil
}

// parseDuration extracts "Duration: HH:MM:SS.cc" from ffmpeg stderr.
func parseDuration(output string) (float64, bool) {
	m := durationRe.FindStringSubmatch(output)
	if len(m) < 5 {
		return 0, false
	}
	hours, _ := strconv.ParseFloat(m[1], 64)
	minutes, _ := strconv.ParseFloat(m[2], 64)
	seconds, _ := strconv.ParseFloat(m[3], 64)
	frac, _ := strconv.ParseFloat("0."+m[4], 64)
	return hours*3600 + minutes*60 + seconds + frac, true
}

// detectSilences runs ffmpeg silencedetect and parses the reported
// intervals from stderr.
func (c *FFmpegChunker) detectSilences(ctx context.Context, audioPath string, policy Policy) ([]Range, error) {
	filter := fmt.Sprintf("silencedetect=n=%.0fdB:d=%.2f",
		policy.SilenceThreshDB-silenceFloorAdjustDB,
		policy.MinSilenceSec,
	)
	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-hide_banner",
		"-i", audioPath,
		"-af", filter,
		"-f", "null", "-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	output := stderr.String()
	if runErr != nil {
		if isBinaryMissing(runErr) {
			return nil, stterr.Permanentf(stterr.KindMissingDependency, "ffmpeg not found: %v", runErr)
		}
		if strings.Contains(output, invalidDataMark) {
			return nil, stterr.Permanentf(stterr.KindCorruptedAudio, "ffmpeg cannot decode %s", audioPath)
		}
	}
	return parseSilences(output), nil
}

// parseSilences pairs silence_start/silence_end lines from silencedetect
// output. A trailing silence_start without an end runs to the end of the
// audio and is dropped; inversion treats the tail as silent either way.
func parseSilences(output string) []Range {
	var out []Range
	var start float64
	hasStart := false

	for _, line := range strings.Split(output, "\n") {
		if m := silenceStartRe.FindStringSubmatch(line); len(m) > 1 {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				if v < 0 {
					v = 0
				}
				start = v
				hasStart = true
			}
		}
		if m := silenceEndRe.FindStringSubmatch(line); len(m) > 1 && hasStart {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				out = append(out, Range{StartSec: start, EndSec: v})
				hasStart = false
			}
		}
	}
	return out
}

// extractSegment writes one range of the input as a 16 kHz mono WAV, the
// sample format the transcriber expects.
func (c *FFmpegChunker) extractSegment(ctx context.Context, audioPath, outPath string, start, duration float64) error {
	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-y",
		"-hide_banner",
		"-ss", fmt.Sprintf("%.3f", start),
		"-t", fmt.Sprintf("%.3f", duration),
		"-i", audioPath,
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if isBinaryMissing(err) {
			return stterr.Permanentf(stterr.KindMissingDependency, "ffmpeg not found: %v", err)
		}
		if strings.Contains(stderr.String(), invalidDataMark) {
			return stterr.Permanentf(stterr.KindCorruptedAudio, "ffmpeg cannot decode %s", audioPath)
		}
		return stterr.Transientf(stterr.KindChunkingFailed, "extract segment at %.3fs: %v: %s",
			start, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func isBinaryMissing(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist)
}
