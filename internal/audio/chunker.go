// Package audio provides audio validation and chunking for transcription.
// The Chunker cuts an audio file into transcribable WAV segments, either
// at silence boundaries or at fixed intervals.
package audio

import "context"

// Strategy selects how chunk boundaries are chosen.
const (
	// StrategySilence cuts at detected silence boundaries, falling back
	// to fixed intervals when no usable silence exists.
	StrategySilence = "silence"
	// StrategyFixed cuts at fixed ChunkDurationSec intervals.
	StrategyFixed = "fixed"
)

// Policy configures the behavior of audio chunking.
type Policy struct {
	// Strategy is StrategySilence or StrategyFixed.
	Strategy string

	// ChunkDurationSec is the fixed chunk length in seconds, used by
	// StrategyFixed and as the silence-strategy fallback. Default: 30.
	ChunkDurationSec float64

	// MinSilenceSec is the minimum silence duration in seconds to
	// consider as a cut point. Default: 1.
	MinSilenceSec float64

	// SilenceThreshDB is the volume in dBFS below which audio counts as
	// silence. Default: -40.
	SilenceThreshDB float64

	// MinChunkSec drops segments shorter than this. Default: 2.
	MinChunkSec float64

	// MaxChunkSec splits segments longer than this. Default: 60.
	MaxChunkSec float64

	// FilterIntroOutro trims the first and last 5 seconds of the audio,
	// which typically carry jingles rather than speech.
	FilterIntroOutro bool
}

// DefaultPolicy returns the default chunking policy.
func DefaultPolicy() Policy {
	return Policy{
		Strategy:         StrategySilence,
		ChunkDurationSec: 30,
		MinSilenceSec:    1,
		SilenceThreshDB:  -40,
		MinChunkSec:      2,
		MaxChunkSec:      60,
		FilterIntroOutro: true,
	}
}

// Segment is one chunk of the source audio, extracted to its own file.
// Indices are contiguous from 0 and ordered by start time.
type Segment struct {
	Index    int
	StartSec float64
	EndSec   float64
	Path     string
}

// Chunker defines the interface for cutting audio into chunk files.
type Chunker interface {
	// Chunk validates the audio file, cuts it per policy, and writes one
	// 16 kHz mono WAV file per segment into outDir. The caller owns the
	// produced files and removes them when done.
	Chunk(ctx context.Context, audioPath, outDir string, policy Policy) ([]Segment, error)

	// Duration returns the audio duration in seconds.
	Duration(ctx context.Context, audioPath string) (float64, error)
}
