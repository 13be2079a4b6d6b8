// Package features computes Whisper-style log-mel spectrograms and pads
// batches of them with an attention mask.
//
// Extraction pads or truncates the waveform to a fixed chunk, runs a
// Hann-windowed STFT with reflect padding, projects the power spectrum onto a
// Slaney-normalized mel filter bank, and compresses it as
// (max(log10(x), max-8) + 4) / 4. The last STFT frame is dropped so a 30 s
// chunk at a 160 sample hop yields exactly 3000 frames.
package features
