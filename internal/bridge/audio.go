package bridge

import (
	"encoding/base64"
	"math"
)

// Telephone audio arrives as G.711 μ-law, 8kHz, one byte per sample. The
// bridge never transcodes: both Twilio and the AI session speak μ-law. The
// decoder exists only to measure frame energy for caller-silence tracking.

func decodeBase64(payload string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(payload)
}

func mulawToLinear(mulawByte byte) int16 {
	const bias = 0x84

	mulawByte = ^mulawByte
	sign := mulawByte & 0x80
	exponent := (mulawByte >> 4) & 0x07
	mantissa := mulawByte & 0x0F

	sample := int16(mantissa<<3 | 0x84)
	sample <<= exponent
	sample -= bias

	if sign != 0 {
		return -sample
	}
	return sample
}

// FrameEnergy returns the RMS amplitude of a μ-law frame, normalized to
// [0,1].
func FrameEnergy(mulaw []byte) float64 {
	if len(mulaw) == 0 {
		return 0
	}
	var sum float64
	for _, b := range mulaw {
		s := float64(mulawToLinear(b))
		sum += s * s
	}
	return math.Sqrt(sum/float64(len(mulaw))) / 32768.0
}

// Speech on a telephone line sits well above this; line noise and comfort
// noise sit below it.
const silenceThreshold = 0.01

// IsSilentFrame reports whether a μ-law frame is below the speech energy
// floor.
func IsSilentFrame(mulaw []byte) bool {
	return FrameEnergy(mulaw) < silenceThreshold
}
