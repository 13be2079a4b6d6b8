// Package audio loads clips as mono float32 waveforms at a target sample rate.
//
// WAV files are decoded in-process with go-audio/wav. Anything else (Common
// Voice ships MP3) is converted by ffmpeg into 16-bit mono PCM first.
package audio
