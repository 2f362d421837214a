package audio

import "testing"

func rangesEqual(a, b []Range) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFixedRanges_90Seconds(t *testing.T) {
	got := fixedRanges(90, 30)
	want := []Range{{0, 30}, {30, 60}, {60, 90}}
	if !rangesEqual(got, want) {
		t.Errorf("fixedRanges(90, 30) = %v, want %v", got, want)
	}
}

func TestFixedRanges_Remainder(t *testing.T) {
	got := fixedRanges(70, 30)
	want := []Range{{0, 30}, {30, 60}, {60, 70}}
	if !rangesEqual(got, want) {
		t.Errorf("fixedRanges(70, 30) = %v, want %v", got, want)
	}
}

func TestFixedRanges_ZeroDuration(t *testing.T) {
	if got := fixedRanges(0, 30); got != nil {
		t.Errorf("fixedRanges(0, 30) = %v, want nil", got)
	}
}

func TestInvertSilences(t *testing.T) {
	silences := []Range{{10, 12}, {40, 45}}
	got := invertSilences(silences, 60)
	want := []Range{{0, 10}, {12, 40}, {45, 60}}
	if !rangesEqual(got, want) {
		t.Errorf("invertSilences = %v, want %v", got, want)
	}
}

func TestInvertSilences_SilenceAtEdges(t *testing.T) {
	silences := []Range{{0, 3}, {55, 60}}
	got := invertSilences(silences, 60)
	want := []Range{{3, 55}}
	if !rangesEqual(got, want) {
		t.Errorf("invertSilences = %v, want %v", got, want)
	}
}

func TestInvertSilences_NoSilence(t *testing.T) {
	got := invertSilences(nil, 30)
	want := []Range{{0, 30}}
	if !rangesEqual(got, want) {
		t.Errorf("invertSilences = %v, want %v", got, want)
	}
}

func TestTrimIntroOutro(t *testing.T) {
	ranges := []Range{
		{0, 4},   // entirely in intro zone: dropped
		{3, 20},  // crosses intro edge: clipped to 5
		{20, 50}, // untouched
		{52, 58}, // crosses outro edge at 55: clipped
		{56, 60}, // entirely in outro zone: dropped
	}
	got := trimIntroOutro(ranges, 60)
	want := []Range{{5, 20}, {20, 50}, {52, 55}}
	if !rangesEqual(got, want) {
		t.Errorf("trimIntroOutro = %v, want %v", got, want)
	}
}

func TestTrimIntroOutro_ShortAudio(t *testing.T) {
	// Zones overlap when the audio is under 10 seconds; nothing survives.
	got := trimIntroOutro([]Range{{0, 8}}, 8)
	if len(got) != 0 {
		t.Errorf("trimIntroOutro = %v, want empty", got)
	}
}

func TestDropShort(t *testing.T) {
	ranges := []Range{{0, 1.5}, {2, 10}, {11, 12.9}}
	got := dropShort(ranges, 2)
	want := []Range{{2, 10}}
	if !rangesEqual(got, want) {
		t.Errorf("dropShort = %v, want %v", got, want)
	}
}

func TestSplitLong(t *testing.T) {
	got := splitLong([]Range{{0, 150}}, 60)
	want := []Range{{0, 60}, {60, 120}, {120, 150}}
	if !rangesEqual(got, want) {
		t.Errorf("splitLong = %v, want %v", got, want)
	}
}

func TestSplitLong_UnderLimitUntouched(t *testing.T) {
	in := []Range{{0, 30}, {30, 59}}
	got := splitLong(in, 60)
	if !rangesEqual(got, in) {
		t.Errorf("splitLong = %v, want %v", got, in)
	}
}

func TestApplyPolicy_Order(t *testing.T) {
	policy := Policy{
		MinChunkSec:      2,
		MaxChunkSec:      60,
		FilterIntroOutro: true,
	}
	// 200s of audio with one long non-silent block. After trimming the
	// 5s edges, [5,195] is split into 60s pieces.
	got := applyPolicy([]Range{{0, 200}}, 200, policy)
	want := []Range{{5, 65}, {65, 125}, {125, 185}, {185, 195}}
	if !rangesEqual(got, want) {
		t.Errorf("applyPolicy = %v, want %v", got, want)
	}
}

func TestApplyPolicy_IndicesStayOrdered(t *testing.T) {
	policy := Policy{MinChunkSec: 2, MaxChunkSec: 30}
	ranges := applyPolicy([]Range{{0, 45}, {50, 140}}, 140, policy)
	for i := 1; i < len(ranges); i++ {
		if ranges[i].StartSec < ranges[i-1].EndSec {
			t.Fatalf("ranges out of order at %d: %v", i, ranges)
		}
	}
}
