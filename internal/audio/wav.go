package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	ErrUnsupportedWAV = errors.New("unsupported wav format")
	ErrInvalidWAV     = errors.New("invalid wav file")
)

const wavFormatPCM = 1

// DecodeWAVFile reads a PCM WAV file into mono float32 samples at targetRate.
func DecodeWAVFile(path string, targetRate int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	return DecodeWAV(f, targetRate)
}

// DecodeWAV decodes PCM WAV data, averages all channels into one and resamples to
// targetRate when the source rate differs.
func DecodeWAV(r io.ReadSeeker, targetRate int) ([]float32, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrInvalidWAV
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: audio format %d", ErrUnsupportedWAV, dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, ErrInvalidWAV
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(dec.BitDepth)
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("%w: bit depth %d", ErrUnsupportedWAV, bitDepth)
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}

	scale := float64(int64(1) << (bitDepth - 1))
	if bitDepth == 8 {
		// 8-bit WAV is unsigned; go-audio hands the raw byte values through.
		scale = 128
	}

	frames := len(buf.Data) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			v := float64(buf.Data[i*channels+c])
			if bitDepth == 8 {
				v -= 128
			}
			sum += v / scale
		}
		mono[i] = float32(sum / float64(channels))
	}

	sampleRate := buf.Format.SampleRate
	if sampleRate <= 0 {
		sampleRate = int(dec.SampleRate)
	}
	if targetRate > 0 && sampleRate > 0 && sampleRate != targetRate {
		mono = ResampleLinear(mono, sampleRate, targetRate)
	}

	return mono, nil
}

// WriteWAVFile stores mono float32 samples as 16-bit PCM. Samples are clamped to [-1, 1].
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}

	if err := writeWAV(f, samples, sampleRate); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close wav: %w", err)
	}
	return nil
}

func writeWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	enc := wav.NewEncoder(w, sampleRate, 16, 1, wavFormatPCM)

	data := make([]int, len(samples))
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		data[i] = int(math.Round(v * 32767))
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// ResampleLinear resamples samples from inRate to outRate using linear interpolation.
func ResampleLinear(samples []float32, inRate, outRate int) []float32 {
	if inRate <= 0 || outRate <= 0 || len(samples) == 0 {
		return samples
	}
	if inRate == outRate {
		return append([]float32(nil), samples...)
	}

	ratio := float64(outRate) / float64(inRate)
	outLen := int(float64(len(samples)) * ratio)
	if outLen < 1 {
		outLen = 1
	}

	out := make([]float32, outLen)
	for i := range out {
		srcPos := float64(i) / ratio
		i0 := int(srcPos)
		if i0 >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(srcPos - float64(i0))
		out[i] = samples[i0] + (samples[i0+1]-samples[i0])*frac
	}
	return out
}
