package inference

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/brensch/gozero/executor/config"
)

// remoteStub is a gRPC client of one model server. reset drops the
// connection; the next call makes a fresh one.
type remoteStub struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn *grpc.ClientConn
}

func newRemoteStub(addr string, timeout time.Duration) *remoteStub {
	return &remoteStub{addr: addr, timeout: timeout}
}

func (c *remoteStub) client() (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		conn, err := grpc.NewClient(c.addr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(
				grpc.CallContentSubtype(codecName),
				grpc.UseCompressor(compressorName),
				grpc.MaxCallRecvMsgSize(64<<20),
			),
		)
		if err != nil {
			return nil, Errorf(CodeUnavailable, "%s: %v", c.addr, err)
		}
		c.conn = conn
	}
	return c.conn, nil
}

// call invokes m under the stub's timeout. Deadline failures come back as
// ErrForwardTimeout, server failures with the Code the server reported.
func (c *remoteStub) call(ctx context.Context, m method, req *request) (*response, error) {
	conn, err := c.client()
	if err != nil {
		return nil, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp := &response{}
	var trailer metadata.MD
	if err := conn.Invoke(ctx, m.fullName(), req, resp, grpc.Trailer(&trailer)); err != nil {
		return nil, c.callError(ctx, m, err, trailer)
	}
	return resp, nil
}

func (c *remoteStub) callError(ctx context.Context, m method, err error, trailer metadata.MD) error {
	st := status.Convert(err)
	if st.Code() == codes.DeadlineExceeded || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %s: %w", c.addr, m, st.Message(), ErrForwardTimeout)
	}
	if v := trailer.Get(codeTrailer); len(v) > 0 {
		if code, perr := strconv.Atoi(v[0]); perr == nil {
			return &Error{Code: Code(code), Msg: st.Message()}
		}
	}
	return Errorf(CodeUnavailable, "%s %s: %s: %s", c.addr, m, st.Code(), st.Message())
}

func (c *remoteStub) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// RemoteBackend is a synchronous client of one model server. Every failed
// call, whether the transport or the server failed, resets the connection
// and consumes a token from the leaky bucket when enabled; Wait holds the
// evaluation goroutine back while the bucket is empty.
type RemoteBackend struct {
	stub   *remoteStub
	bucket *LeakyBucket
	log    zerolog.Logger
}

func NewRemoteBackend(addr string, cfg config.DistConfig, log zerolog.Logger) *RemoteBackend {
	b := &RemoteBackend{
		stub: newRemoteStub(addr, cfg.Timeout()),
		log:  log.With().Str("component", "remote").Str("addr", addr).Logger(),
	}
	if cfg.EnableLeakyBucket {
		b.bucket = NewLeakyBucket(cfg.LeakyBucketSize, cfg.RefillPeriod())
	}
	return b
}

func (b *RemoteBackend) do(ctx context.Context, m method, req *request) (*response, error) {
	resp, err := b.stub.call(ctx, m, req)
	if err != nil {
		b.log.Warn().Err(err).Stringer("method", m).Msg("rpc failed")
		b.stub.reset()
		if b.bucket != nil {
			b.bucket.ConsumeToken()
		}
		return nil, err
	}
	return resp, nil
}

func (b *RemoteBackend) Init(ctx context.Context, cfg config.ModelConfig) error {
	_, err := b.do(ctx, methodInit, &request{Model: cfg})
	return err
}

func (b *RemoteBackend) GlobalStep(ctx context.Context) (int64, error) {
	resp, err := b.do(ctx, methodGlobalStep, &request{})
	if err != nil {
		return 0, err
	}
	return resp.GlobalStep, nil
}

func (b *RemoteBackend) Forward(ctx context.Context, inputs [][]bool) ([][]float32, []float32, error) {
	req, err := forwardRequest(inputs)
	if err != nil {
		return nil, nil, err
	}
	resp, err := b.do(ctx, methodForward, req)
	if err != nil {
		return nil, nil, err
	}
	if err := checkResponse(resp, len(inputs)); err != nil {
		return nil, nil, err
	}
	return resp.Policy, resp.Value, nil
}

func (b *RemoteBackend) Wait(context.Context) {
	if b.bucket == nil || !b.bucket.Empty() {
		return
	}
	b.log.Warn().Msg("too many failures, disabling backend until the bucket refills")
	b.bucket.WaitRefill()
	b.log.Info().Msg("backend reenabled")
}

func (b *RemoteBackend) RPCQueueSize() int { return 0 }

func (b *RemoteBackend) Close() error {
	b.stub.reset()
	return nil
}

func forwardRequest(inputs [][]bool) (*request, error) {
	if err := checkInputs(inputs); err != nil {
		return nil, err
	}
	req := &request{Inputs: make([][]byte, len(inputs))}
	for i, in := range inputs {
		req.Inputs[i] = packBits(in)
	}
	return req, nil
}

func checkResponse(resp *response, n int) error {
	if len(resp.Policy) == 0 && len(resp.Value) == 0 {
		return ErrEmptyResponse
	}
	if len(resp.Policy) != n || len(resp.Value) != n {
		return Errorf(CodeEmptyResponse, "got %d policies and %d values for %d inputs", len(resp.Policy), len(resp.Value), n)
	}
	for i, p := range resp.Policy {
		if len(p) != OutputDim {
			return Errorf(CodeEmptyResponse, "policy %d has %d entries", i, len(p))
		}
	}
	return nil
}

var _ Backend = (*RemoteBackend)(nil)
