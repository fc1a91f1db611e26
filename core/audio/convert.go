package audio

import (
	"encoding/binary"
	"fmt"
)

// Convert reshapes linear16 audio into the target encoding by averaging
// channels down to the target count and linearly resampling.
func Convert(clip Clip, target EncodingInfo) (Clip, error) {
	if clip.Encoding.Format != EncodingLinear16 || target.Format != EncodingLinear16 {
		return Clip{}, fmt.Errorf("%w: conversion only supports linear16", ErrUnsupportedFormat)
	}
	if clip.Encoding.SampleRate <= 0 || target.SampleRate <= 0 {
		return Clip{}, fmt.Errorf("invalid sample rate")
	}

	srcChannels := clip.Encoding.ChannelCount()
	dstChannels := target.ChannelCount()
	if srcChannels == dstChannels && clip.Encoding.SampleRate == target.SampleRate {
		clip.Encoding = target
		return clip, nil
	}

	samples := toSamples(clip.Data)
	frames := len(samples) / srcChannels
	mono := make([]float64, frames)
	for i := range frames {
		var sum float64
		for ch := range srcChannels {
			sum += float64(samples[i*srcChannels+ch])
		}
		mono[i] = sum / float64(srcChannels)
	}

	resampled := resample(mono, clip.Encoding.SampleRate, target.SampleRate)

	out := make([]byte, len(resampled)*dstChannels*2)
	for i, value := range resampled {
		sample := uint16(clampSample(value))
		for ch := range dstChannels {
			binary.LittleEndian.PutUint16(out[(i*dstChannels+ch)*2:], sample)
		}
	}

	return Clip{Locator: clip.Locator, Data: out, Encoding: target}, nil
}

func toSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

func resample(in []float64, fromRate, toRate int) []float64 {
	if fromRate == toRate || len(in) == 0 {
		return in
	}

	outLen := int(int64(len(in)) * int64(toRate) / int64(fromRate))
	out := make([]float64, outLen)
	step := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = in[idx]*(1-frac) + in[idx+1]*frac
	}
	return out
}

func clampSample(v float64) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
