package audio

import (
	"encoding/binary"
	"math"
)

// G.711 μ-law constants.
const (
	mulawBias = 0x84
	mulawClip = 32635
)

var mulawTable [256]int16

func init() {
	for i := range mulawTable {
		mulawTable[i] = expandMulaw(byte(i))
	}
}

func expandMulaw(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := ((int32(mantissa) << 3) + mulawBias) << exponent
	sample -= mulawBias
	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

// MulawDecode expands one μ-law code to a 16-bit linear sample.
func MulawDecode(u byte) int16 { return mulawTable[u] }

// MulawEncode compresses a 16-bit linear sample to a μ-law code.
func MulawEncode(s int16) byte {
	sample := int32(s)
	var sign byte
	if sample < 0 {
		sample = -sample
		sign = 0x80
	}
	if sample > mulawClip {
		sample = mulawClip
	}
	sample += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); sample&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(sample>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// DecodeMulawFrame expands a μ-law buffer to linear PCM samples.
func DecodeMulawFrame(frame []byte) []int16 {
	out := make([]int16, len(frame))
	for i, b := range frame {
		out[i] = mulawTable[b]
	}
	return out
}

// EncodeMulawFrame compresses linear PCM samples to μ-law.
func EncodeMulawFrame(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = MulawEncode(s)
	}
	return out
}

// BytesToPCM16 reads little-endian signed 16-bit samples. A trailing odd byte is dropped.
func BytesToPCM16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// PCM16ToBytes writes samples as little-endian signed 16-bit.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// RMS is the root-mean-square level of samples on the 16-bit scale.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
