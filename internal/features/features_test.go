package features

import (
	"math"
	"path/filepath"
	"testing"

	"whispertune/internal/fileutil"
)

func TestSlaneyMelScaleRoundTrip(t *testing.T) {
	for _, hz := range []float64{0, 200, 999, 1000, 4000, 8000} {
		if got := melToHz(hzToMel(hz)); math.Abs(got-hz) > 1e-6 {
			t.Fatalf("melToHz(hzToMel(%f)) = %f", hz, got)
		}
	}
	if got := hzToMel(1000); math.Abs(got-15) > 1e-9 {
		t.Fatalf("hzToMel(1000) = %f, want 15", got)
	}
}

func TestMelFilterBankShape(t *testing.T) {
	bank := melFilterBank(201, 80, 0, 8000, 16000)
	if len(bank) != 80 || len(bank[0]) != 201 {
		t.Fatalf("unexpected shape %dx%d", len(bank), len(bank[0]))
	}
	for m, row := range bank {
		var sum float64
		for _, w := range row {
			if w < 0 {
				t.Fatalf("filter %d has negative weight", m)
			}
			sum += w
		}
		if sum == 0 {
			t.Fatalf("filter %d is empty", m)
		}
	}
}

func TestReflectPadMatchesNumpy(t *testing.T) {
	got := reflectPad([]float64{1, 2, 3, 4}, 2)
	want := []float64{3, 2, 1, 2, 3, 4, 3, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("reflectPad = %v, want %v", got, want)
		}
	}
	short := reflectPad([]float64{1, 2}, 3)
	wantShort := []float64{2, 1, 2, 1, 2, 1, 2, 1}
	for i := range wantShort {
		if short[i] != wantShort[i] {
			t.Fatalf("reflectPad short = %v, want %v", short, wantShort)
		}
	}
}

func TestExtractProducesWhisperShape(t *testing.T) {
	ex, err := NewExtractor(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	m, err := ex.Extract(samples)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if m.Bins() != 80 || m.Frames() != 3000 {
		t.Fatalf("unexpected shape %dx%d", m.Bins(), m.Frames())
	}
	maxVal := float32(math.Inf(-1))
	minVal := float32(math.Inf(1))
	for _, row := range m {
		for _, v := range row {
			maxVal = max(maxVal, v)
			minVal = min(minVal, v)
		}
	}
	if maxVal-minVal > 2.0+1e-5 {
		t.Fatalf("dynamic range should be clamped to 8 decades (2.0 after scaling), got %f", maxVal-minVal)
	}

	again, err := ex.Extract(samples)
	if err != nil {
		t.Fatal(err)
	}
	for b := range m {
		for f := range m[b] {
			if m[b][f] != again[b][f] {
				t.Fatal("extraction is not deterministic")
			}
		}
	}
}

func TestExtractWithoutChunkPadding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PadToChunk = false
	ex, err := NewExtractor(cfg)
	if err != nil {
		t.Fatal(err)
	}
	m, err := ex.Extract(make([]float32, 1600))
	if err != nil {
		t.Fatal(err)
	}
	if m.Frames() != 10 {
		t.Fatalf("expected 10 frames for 0.1 s, got %d", m.Frames())
	}
	if _, err := ex.Extract(nil); err == nil {
		t.Fatal("expected error for empty waveform")
	}
}

func TestNewExtractorValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HopLength = 0
	if _, err := NewExtractor(cfg); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestPadBuildsMask(t *testing.T) {
	a := Matrix{{1, 2, 3}, {4, 5, 6}}
	b := Matrix{{7}, {8}}
	padded, err := Pad([]Matrix{a, b}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if padded.Frames() != 3 {
		t.Fatalf("expected 3 frames, got %d", padded.Frames())
	}
	wantMask := [][]int32{{1, 1, 1}, {1, 0, 0}}
	for i := range wantMask {
		for j := range wantMask[i] {
			if padded.AttentionMask[i][j] != wantMask[i][j] {
				t.Fatalf("mask = %v, want %v", padded.AttentionMask, wantMask)
			}
		}
	}
	if padded.Values[1][1][0] != 8 || padded.Values[1][1][2] != 0 {
		t.Fatalf("unexpected padded values %v", padded.Values[1])
	}
	if _, err := Pad(nil, 0); err == nil {
		t.Fatal("expected error for empty batch")
	}
	if _, err := Pad([]Matrix{a, {{1}}}, 0); err == nil {
		t.Fatal("expected error for mismatched mel bins")
	}
}

func TestProcessorConfigRoundTrip(t *testing.T) {
	pc := ProcessorConfigFor(DefaultConfig())
	if pc.NSamples != 480000 || pc.NbMaxFrames != 3000 {
		t.Fatalf("unexpected derived sizes %+v", pc)
	}
	path := filepath.Join(t.TempDir(), ProcessorConfigFile)
	if err := fileutil.WriteJSON(path, pc); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadProcessorConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Config() != DefaultConfig() {
		t.Fatalf("config mismatch: %+v", loaded.Config())
	}
}
