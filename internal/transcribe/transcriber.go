// Package transcribe provides speech-to-text inference over audio chunk
// files. The production adapter shells out to whisper-cli; tests use the
// function-backed fake in this package.
package transcribe

import "context"

// Segment is one timed span of recognized text.
type Segment struct {
	StartSec float64
	EndSec   float64
	Text     string
}

// Result is the transcription of a single audio chunk.
type Result struct {
	Text     string
	Segments []Segment
}

// Transcriber defines the interface for chunk transcription. Transcribe
// is safe for concurrent use; adapters serialize internally when the
// underlying engine is not reentrant.
type Transcriber interface {
	// Transcribe converts one audio chunk to text in the given language.
	Transcribe(ctx context.Context, chunkPath, language string) (Result, error)

	// Close releases the engine and its model memory.
	Close() error
}

// Func adapts a plain function to the Transcriber interface. Test helper.
type Func func(ctx context.Context, chunkPath, language string) (Result, error)

// Transcribe calls f.
func (f Func) Transcribe(ctx context.Context, chunkPath, language string) (Result, error) {
	return f(ctx, chunkPath, language)
}

// Close is a no-op.
func (f Func) Close() error { return nil }
