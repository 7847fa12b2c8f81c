package inference

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/brensch/gozero/executor/config"
)

// The model service speaks gRPC with hand-encoded protobuf-wire messages
// and zstd compression, registered under codecName and compressorName.
const (
	serviceName    = "gozero.DistZeroModel"
	codecName      = "gozero"
	compressorName = "zstd"

	// codeTrailer carries the inference Code of a failed call.
	codeTrailer = "gozero-code"
)

func init() {
	encoding.RegisterCodec(wireCodec{})
	encoding.RegisterCompressor(newZstdCompressor())
}

type method int

const (
	methodInit method = iota + 1
	methodGlobalStep
	methodForward
)

func (m method) String() string {
	switch m {
	case methodInit:
		return "Init"
	case methodGlobalStep:
		return "GetGlobalStep"
	case methodForward:
		return "Forward"
	}
	return fmt.Sprintf("method(%d)", int(m))
}

func (m method) fullName() string {
	return "/" + serviceName + "/" + m.String()
}

type request struct {
	Model config.ModelConfig
	// Inputs are bit-packed feature vectors, see packBits.
	Inputs [][]byte
}

type response struct {
	GlobalStep int64
	Policy     [][]float32
	Value      []float32
}

var errMalformed = errors.New("inference: malformed message")

type wireCodec struct{}

func (wireCodec) Name() string { return codecName }

func (wireCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *request:
		return marshalRequest(m), nil
	case *response:
		return marshalResponse(m), nil
	}
	return nil, fmt.Errorf("inference: cannot marshal %T", v)
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *request:
		return unmarshalRequest(data, m)
	case *response:
		return unmarshalResponse(data, m)
	}
	return fmt.Errorf("inference: cannot unmarshal into %T", v)
}

// zstdCompressor pools encoders and decoders across calls.
type zstdCompressor struct {
	encoders sync.Pool
	decoders sync.Pool
}

func newZstdCompressor() *zstdCompressor {
	c := &zstdCompressor{}
	c.encoders.New = func() any {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("create zstd encoder: %v", err))
		}
		return enc
	}
	c.decoders.New = func() any {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20), zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("create zstd decoder: %v", err))
		}
		return dec
	}
	return c
}

func (c *zstdCompressor) Name() string { return compressorName }

func (c *zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	enc := c.encoders.Get().(*zstd.Encoder)
	enc.Reset(w)
	return &pooledEncoder{Encoder: enc, pool: &c.encoders}, nil
}

type pooledEncoder struct {
	*zstd.Encoder
	pool *sync.Pool
}

func (e *pooledEncoder) Close() error {
	err := e.Encoder.Close()
	e.pool.Put(e.Encoder)
	return err
}

// Decompress reads the whole frame so the decoder goes back to the pool
// before the message is parsed.
func (c *zstdCompressor) Decompress(r io.Reader) (io.Reader, error) {
	dec := c.decoders.Get().(*zstd.Decoder)
	defer c.decoders.Put(dec)
	if err := dec.Reset(r); err != nil {
		return nil, fmt.Errorf("zstd reset: %w", err)
	}
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return bytes.NewReader(data), nil
}

func marshalRequest(r *request) []byte {
	var b []byte
	if r.Model != (config.ModelConfig{}) {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalModelConfig(r.Model))
	}
	for _, in := range r.Inputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, in)
	}
	return b
}

func marshalModelConfig(m config.ModelConfig) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.ModelPath)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.IntraOpThreads))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.InterOpThreads))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(m.UseCUDA))
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.CUDADevice))
	return b
}

func marshalResponse(r *response) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.GlobalStep))
	for _, p := range r.Policy {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, appendFloats(nil, p))
	}
	if len(r.Value) > 0 {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, appendFloats(nil, r.Value))
	}
	return b
}

func appendFloats(b []byte, v []float32) []byte {
	for _, f := range v {
		b = protowire.AppendFixed32(b, math.Float32bits(f))
	}
	return b
}

func consumeFloats(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errMalformed
	}
	out := make([]float32, 0, len(b)/4)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, math.Float32frombits(v))
		b = b[n:]
	}
	return out, nil
}

// walkFields calls fn for every field of a message. For varint fields v
// holds the value, for bytes fields data holds the payload.
func walkFields(b []byte, fn func(num protowire.Number, v uint64, data []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, v, nil); err != nil {
				return err
			}
			b = b[n:]
		case protowire.BytesType:
			data, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, 0, data); err != nil {
				return err
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func unmarshalRequest(b []byte, r *request) error {
	err := walkFields(b, func(num protowire.Number, v uint64, data []byte) error {
		switch num {
		case 1:
			m, err := unmarshalModelConfig(data)
			if err != nil {
				return err
			}
			r.Model = m
		case 2:
			r.Inputs = append(r.Inputs, bytes.Clone(data))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func unmarshalModelConfig(b []byte) (config.ModelConfig, error) {
	var m config.ModelConfig
	err := walkFields(b, func(num protowire.Number, v uint64, data []byte) error {
		switch num {
		case 1:
			m.ModelPath = string(data)
		case 2:
			m.IntraOpThreads = int(v)
		case 3:
			m.InterOpThreads = int(v)
		case 4:
			m.UseCUDA = protowire.DecodeBool(v)
		case 5:
			m.CUDADevice = int(v)
		}
		return nil
	})
	return m, err
}

func unmarshalResponse(b []byte, r *response) error {
	err := walkFields(b, func(num protowire.Number, v uint64, data []byte) error {
		switch num {
		case 1:
			r.GlobalStep = int64(v)
		case 2:
			p, err := consumeFloats(data)
			if err != nil {
				return err
			}
			r.Policy = append(r.Policy, p)
		case 3:
			vals, err := consumeFloats(data)
			if err != nil {
				return err
			}
			r.Value = vals
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// packBits stores features least significant bit first, eight per byte.
func packBits(features []bool) []byte {
	out := make([]byte, (len(features)+7)/8)
	for i, f := range features {
		if f {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

// unpackBits expands the first n bits of b.
func unpackBits(b []byte, n int) ([]bool, error) {
	if len(b)*8 < n {
		return nil, Errorf(CodeInvalidInput, "input has %d bits, need %d", len(b)*8, n)
	}
	out := make([]bool, n)
	for i := range out {
		out[i] = b[i/8]&(1<<(i%8)) != 0
	}
	return out, nil
}
