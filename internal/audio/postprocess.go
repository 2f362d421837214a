package audio

// Range is a half-open time interval within the source audio, in seconds.
type Range struct {
	StartSec float64
	EndSec   float64
}

// introOutroSec is the width of the trim zones at both ends of the audio
// when Policy.FilterIntroOutro is set.
const introOutroSec = 5.0

// invertSilences converts detected silence intervals into the non-silent
// ranges of [0, duration). Silences are assumed sorted by start time, as
// ffmpeg emits them.
func invertSilences(silences []Range, duration float64) []Range {
	var out []Range
	cursor := 0.0
	for _, s := range silences {
		if s.StartSec > cursor {
			out = append(out, Range{StartSec: cursor, EndSec: s.StartSec})
		}
		if s.EndSec > cursor {
			cursor = s.EndSec
		}
	}
	if cursor < duration {
		out = append(out, Range{StartSec: cursor, EndSec: duration})
	}
	return out
}

// fixedRanges cuts [0, duration) into consecutive chunkSec-long ranges.
// The final range is whatever remains and may be shorter.
func fixedRanges(duration, chunkSec float64) []Range {
	if duration <= 0 || chunkSec <= 0 {
		return nil
	}
	var out []Range
	for start := 0.0; start < duration; start += chunkSec {
		end := start + chunkSec
		if end > duration {
			end = duration
		}
		out = append(out, Range{StartSec: start, EndSec: end})
	}
	return out
}

// trimIntroOutro removes the first and last introOutroSec seconds of the
// audio from the candidate ranges. Ranges entirely inside a trim zone are
// dropped; ranges crossing a zone edge are clipped to it.
func trimIntroOutro(ranges []Range, duration float64) []Range {
	lo := introOutroSec
	hi := duration - introOutroSec
	if hi <= lo {
		return nil
	}
	var out []Range
	for _, r := range ranges {
		if r.EndSec <= lo || r.StartSec >= hi {
			continue
		}
		if r.StartSec < lo {
			r.StartSec = lo
		}
		if r.EndSec > hi {
			r.EndSec = hi
		}
		out = append(out, r)
	}
	return out
}

// dropShort removes ranges shorter than minSec.
func dropShort(ranges []Range, minSec float64) []Range {
	var out []Range
	for _, r := range ranges {
		if r.EndSec-r.StartSec >= minSec {
			out = append(out, r)
		}
	}
	return out
}

// splitLong splits ranges longer than maxSec into consecutive sub-ranges
// of at most maxSec, preserving overall time order.
func splitLong(ranges []Range, maxSec float64) []Range {
	if maxSec <= 0 {
		return ranges
	}
	var out []Range
	for _, r := range ranges {
		for start := r.StartSec; start < r.EndSec; start += maxSec {
			end := start + maxSec
			if end > r.EndSec {
				end = r.EndSec
			}
			out = append(out, Range{StartSec: start, EndSec: end})
		}
	}
	return out
}

// applyPolicy runs the post-processing pipeline over the candidate ranges:
// intro/outro trim, short-range drop, long-range split.
func applyPolicy(ranges []Range, duration float64, policy Policy) []Range {
	if policy.FilterIntroOutro {
		ranges = trimIntroOutro(ranges, duration)
	}
	ranges = dropShort(ranges, policy.MinChunkSec)
	ranges = splitLong(ranges, policy.MaxChunkSec)
	return ranges
}
