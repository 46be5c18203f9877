package tensor

import (
	"github.com/x448/float16"
)

// RoundHalf rounds a float32 to the nearest IEEE 754 binary16 value and
// widens it back, mirroring what a reduced-precision kernel would see.
func RoundHalf(v float32) float32 {
	return float16.Fromfloat32(v).Float32()
}

// RoundHalfInPlace applies RoundHalf to every element of data.
func RoundHalfInPlace(data []float32) {
	for i, v := range data {
		data[i] = RoundHalf(v)
	}
}

// HalfCopy returns a float16-rounded copy of data, leaving data untouched.
func HalfCopy(data []float32) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = RoundHalf(v)
	}
	return out
}
