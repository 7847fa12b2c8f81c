package inference

import (
	"bytes"
	"io"
	"slices"
	"testing"

	"google.golang.org/grpc/encoding"

	"github.com/brensch/gozero/executor/config"
)

func TestPackBits(t *testing.T) {
	in := make([]bool, InputDim)
	for i := range in {
		in[i] = i%3 == 0 || i%7 == 0
	}
	packed := packBits(in)
	if len(packed) != (InputDim+7)/8 {
		t.Fatalf("packed len = %d", len(packed))
	}
	if packed[0]&1 == 0 || packed[0]&2 != 0 {
		t.Fatalf("bit order is not lsb first: %08b", packed[0])
	}
	out, err := unpackBits(packed, InputDim)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(in, out) {
		t.Fatalf("unpack mismatch")
	}
	if _, err := unpackBits(packed[:10], InputDim); CodeOf(err) != CodeInvalidInput {
		t.Fatalf("short input err = %v", err)
	}
}

func TestCodec_ForwardExchange(t *testing.T) {
	c := encoding.GetCodec(codecName)
	if c == nil {
		t.Fatalf("codec %q not registered", codecName)
	}

	req := &request{
		Model:  config.ModelConfig{ModelPath: "m.onnx", IntraOpThreads: 2, UseCUDA: true, CUDADevice: 1},
		Inputs: [][]byte{{1, 2, 3}, {}},
	}
	data, err := c.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	got := &request{}
	if err := c.Unmarshal(data, got); err != nil {
		t.Fatal(err)
	}
	if got.Model != req.Model || len(got.Inputs) != 2 || !bytes.Equal(got.Inputs[0], req.Inputs[0]) {
		t.Fatalf("request = %+v", got)
	}

	resp := &response{
		GlobalStep: 1234,
		Policy:     [][]float32{{0.25, 0.75}, {1, 0}},
		Value:      []float32{-0.5, 0.5},
	}
	if data, err = c.Marshal(resp); err != nil {
		t.Fatal(err)
	}
	back := &response{}
	if err := c.Unmarshal(data, back); err != nil {
		t.Fatal(err)
	}
	if back.GlobalStep != 1234 || len(back.Policy) != 2 || back.Policy[0][1] != 0.75 || back.Value[0] != -0.5 {
		t.Fatalf("response = %+v", back)
	}

	if _, err := c.Marshal("not a message"); err == nil {
		t.Fatalf("expected error marshalling a string")
	}
}

func TestZstdCompressor(t *testing.T) {
	comp := encoding.GetCompressor(compressorName)
	if comp == nil {
		t.Fatalf("compressor %q not registered", compressorName)
	}
	payload := bytes.Repeat([]byte("gozero "), 1000)

	for i := 0; i < 3; i++ {
		var buf bytes.Buffer
		w, err := comp.Compress(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(payload); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
		if buf.Len() >= len(payload) {
			t.Fatalf("compressed %d bytes into %d", len(payload), buf.Len())
		}
		r, err := comp.Decompress(&buf)
		if err != nil {
			t.Fatal(err)
		}
		out, err := io.ReadAll(r)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(out, payload) {
			t.Fatalf("round %d: payload mismatch", i)
		}
	}
}

func TestUnmarshal_Truncated(t *testing.T) {
	b := marshalResponse(&response{GlobalStep: 1, Policy: [][]float32{{1, 2, 3}}})
	if err := unmarshalResponse(b[:len(b)-3], &response{}); err == nil {
		t.Fatalf("expected error for truncated message")
	}
}
