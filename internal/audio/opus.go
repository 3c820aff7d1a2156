package audio

import (
	"gopkg.in/hraban/opus.v2"
)

const (
	opusFrameDuration = 20
	opusFrameSize     = CaptureRate * opusFrameDuration / 1000
)

// OpusDecoder turns the 48 kHz mono Opus frames the client app streams over
// the ingest socket back into float32 samples for the capture path.
type OpusDecoder struct {
	decoder *opus.Decoder
	pcm     []int16
}

func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(CaptureRate, 1)
	if err != nil {
		return nil, err
	}
	return &OpusDecoder{
		decoder: dec,
		pcm:     make([]int16, opusFrameSize),
	}, nil
}

func (d *OpusDecoder) Decode(data []byte) ([]float32, error) {
	n, err := d.decoder.Decode(data, d.pcm)
	if err != nil {
		return nil, err
	}
	return Int16ToFloat32(d.pcm[:n]), nil
}

func (d *OpusDecoder) SampleRate() int {
	return CaptureRate
}
