// Package hostbridge forwards an interrupted extrinsic call to an
// out-of-process syscall handler, over vsock when the kernel supports it and
// over TCP otherwise. It speaks the same length-prefixed JSON framing the
// teacher's host-process agent client uses, just against a syscall handler
// instead of a function runtime.
package hostbridge

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/oriys/wasmkernel/internal/config"
	"github.com/oriys/wasmkernel/internal/engine"
	"github.com/oriys/wasmkernel/internal/observability"
	"github.com/oriys/wasmkernel/internal/signature"
)

// Token identifies which extrinsic the bridge should ask the remote handler
// to service. A process.Builder registers one Token value per host function
// via WithExtrinsic; RunOutcome.Token carries it back on RunInterrupted.
type Token struct {
	Syscall string
}

const maxFrameSize = 1 << 20 // 1 MiB, generous for a syscall argument list

// Client dials a remote syscall handler on demand, one connection per Call,
// mirroring the teacher's agent client's redial-per-request approach rather
// than holding a single long-lived stream open across an idle scheduler.
type Client struct {
	dial    func(ctx context.Context) (net.Conn, error)
	timeout time.Duration
}

// New builds a Client from HostBridgeConfig: vsock when a context ID is
// configured, TCP otherwise. Both transports speak the identical wire
// protocol, so a handler only has to implement it once.
func New(cfg config.HostBridgeConfig, timeout time.Duration) *Client {
	if cfg.VsockCID != 0 {
		return NewVsockClient(cfg.VsockCID, cfg.VsockPort, timeout)
	}
	return NewTCPClient(cfg.TCPAddr, timeout)
}

// NewVsockClient dials the given vsock context ID and port. Only meaningful
// inside a VM guest with vsock support (Linux with CONFIG_VSOCKETS); dialing
// fails cleanly elsewhere, which is exactly when a caller should have chosen
// NewTCPClient instead.
func NewVsockClient(cid, port uint32, timeout time.Duration) *Client {
	return &Client{
		dial: func(ctx context.Context) (net.Conn, error) {
			return vsock.Dial(cid, port, nil)
		},
		timeout: timeout,
	}
}

// NewTCPClient dials addr over TCP, the fallback transport off-Linux or
// outside a VM guest.
func NewTCPClient(addr string, timeout time.Duration) *Client {
	return &Client{
		dial: func(ctx context.Context) (net.Conn, error) {
			d := net.Dialer{Timeout: timeout}
			return d.DialContext(ctx, "tcp", addr)
		},
		timeout: timeout,
	}
}

// Call asks the remote handler to service tok with params, blocking until a
// response arrives or ctx is done. The caller resumes the interrupted thread
// with the returned values via ThreadHandle.Resume.
func (c *Client) Call(ctx context.Context, tok Token, params []engine.Value) ([]engine.Value, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("hostbridge: dial: %w", err)
	}
	defer conn.Close()

	deadline := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	} else if deadline > 0 {
		_ = conn.SetDeadline(time.Now().Add(deadline))
	}

	args := make([]wireValue, len(params))
	for i, p := range params {
		args[i] = encodeValue(p)
	}

	trace := observability.ExtractTraceContext(ctx)
	if err := writeFrame(conn, &request{Syscall: tok.Syscall, Args: args, TraceParent: trace.TraceParent, TraceState: trace.TraceState}); err != nil {
		return nil, fmt.Errorf("hostbridge: send request: %w", err)
	}

	var resp response
	if err := readFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("hostbridge: read response: %w", err)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}

	results := make([]engine.Value, len(resp.Results))
	for i, w := range resp.Results {
		v, err := decodeValue(w)
		if err != nil {
			return nil, fmt.Errorf("hostbridge: decode result %d: %w", i, err)
		}
		results[i] = v
	}
	return results, nil
}

// request is the wire shape of one Call. TraceParent/TraceState carry the
// W3C trace context across the process boundary, so a syscall handler's own
// spans nest under the scheduler's trace rather than starting a new one.
type request struct {
	Syscall     string      `json:"syscall"`
	Args        []wireValue `json:"args"`
	TraceParent string      `json:"traceparent,omitempty"`
	TraceState  string      `json:"tracestate,omitempty"`
}

// response is the wire shape of one Call's reply. Error is non-empty only
// when the handler refused or failed to service the syscall.
type response struct {
	Results []wireValue `json:"results,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type wireValue struct {
	Type string  `json:"type"` // "i32", "i64", "f32", "f64"
	I32  int32   `json:"i32,omitempty"`
	I64  int64   `json:"i64,omitempty"`
	F32  float32 `json:"f32,omitempty"`
	F64  float64 `json:"f64,omitempty"`
}

func encodeValue(v engine.Value) wireValue {
	switch v.Type {
	case signature.I64:
		return wireValue{Type: "i64", I64: v.AsI64()}
	case signature.F32:
		return wireValue{Type: "f32", F32: v.AsF32()}
	case signature.F64:
		return wireValue{Type: "f64", F64: v.AsF64()}
	default:
		return wireValue{Type: "i32", I32: v.AsI32()}
	}
}

func decodeValue(w wireValue) (engine.Value, error) {
	switch w.Type {
	case "i32":
		return engine.I32(w.I32), nil
	case "i64":
		return engine.I64(w.I64), nil
	case "f32":
		return engine.F32(w.F32), nil
	case "f64":
		return engine.F64(w.F64), nil
	default:
		return engine.Value{}, fmt.Errorf("unknown value type %q", w.Type)
	}
}

func writeFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(data))
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(data)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func readFrame(r io.Reader, v any) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(header)
	if size > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Handler services one syscall request and returns the values to resume the
// calling thread with.
type Handler func(ctx context.Context, tok Token, params []engine.Value) ([]engine.Value, error)

// Server accepts connections on a net.Listener (TCP, or a vsock.Listener in
// a guest with vsock support) and services each framed request with handler.
// It is the counterpart to Client, speaking the same wire protocol from the
// handler side.
type Server struct {
	ln      net.Listener
	handler Handler

	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

// ListenTCP starts a Server bound to addr.
func ListenTCP(addr string, handler Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("hostbridge: listen: %w", err)
	}
	return newServer(ln, handler), nil
}

// ListenVsock starts a Server bound to the given vsock port on this guest.
func ListenVsock(port uint32, handler Handler) (*Server, error) {
	ln, err := vsock.Listen(port, nil)
	if err != nil {
		return nil, fmt.Errorf("hostbridge: listen vsock: %w", err)
	}
	return newServer(ln, handler), nil
}

func newServer(ln net.Listener, handler Handler) *Server {
	return &Server{ln: ln, handler: handler}
}

// Serve accepts connections until Close is called or the listener errors.
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var req request
	if err := readFrame(conn, &req); err != nil {
		return
	}

	params := make([]engine.Value, len(req.Args))
	for i, w := range req.Args {
		v, err := decodeValue(w)
		if err != nil {
			_ = writeFrame(conn, &response{Error: err.Error()})
			return
		}
		params[i] = v
	}

	ctx = observability.InjectTraceContext(ctx, observability.TraceContext{
		TraceParent: req.TraceParent,
		TraceState:  req.TraceState,
	})

	results, err := s.handler(ctx, Token{Syscall: req.Syscall}, params)
	if err != nil {
		_ = writeFrame(conn, &response{Error: err.Error()})
		return
	}

	out := make([]wireValue, len(results))
	for i, v := range results {
		out[i] = encodeValue(v)
	}
	_ = writeFrame(conn, &response{Results: out})
}

// Close stops accepting new connections and returns without waiting; Serve
// waits for in-flight connections to finish before it returns.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.ln.Close()
}
