package quictransport

import (
	"net"
	"strings"

	"github.com/quic-go/quic-go"
)

// Tuning outcomes.
const (
	StatusOK     = "ok"
	StatusDenied = "denied"
	StatusNA     = "n/a"
)

const (
	defaultInitialConnWindow = 2 * 1024 * 1024
	minConnWindow            = 1 * 1024 * 1024
	maxConnWindow            = 1024 * 1024 * 1024
	minStreamWindow          = 1 * 1024 * 1024
	maxStreamWindow          = 256 * 1024 * 1024

	minUDPBuffer = 256 * 1024
	maxUDPBuffer = 64 * 1024 * 1024

	// DefaultConnWindow and DefaultStreamWindow fit one large file on one stream.
	DefaultConnWindow   = 64 * 1024 * 1024
	DefaultStreamWindow = 32 * 1024 * 1024
	// DefaultUDPBuffer is requested for both directions of the socket.
	DefaultUDPBuffer = 8 * 1024 * 1024
)

// TuneResult reports the windows applied by BuildConfig.
type TuneResult struct {
	ConnWin   int
	StreamWin int
}

// BuildConfig copies base and sets clamped receive windows. base is not modified.
func BuildConfig(base *quic.Config, connWin, streamWin int) (*quic.Config, TuneResult) {
	cfg := &quic.Config{}
	if base != nil {
		copyCfg := *base
		cfg = &copyCfg
	}

	conn := clamp(connWin, minConnWindow, maxConnWindow)
	stream := clamp(streamWin, minStreamWindow, maxStreamWindow)
	initialConn := defaultInitialConnWindow
	if initialConn > conn {
		initialConn = conn
	}
	cfg.InitialConnectionReceiveWindow = uint64(initialConn)
	cfg.MaxConnectionReceiveWindow = uint64(conn)
	cfg.InitialStreamReceiveWindow = uint64(stream)
	cfg.MaxStreamReceiveWindow = uint64(stream)

	return cfg, TuneResult{ConnWin: conn, StreamWin: stream}
}

// UDPTuneResult reports what ApplyUDPBuffers asked for and whether the
// kernel accepted it.
type UDPTuneResult struct {
	Requested int
	Status    string
	Err       string
}

// ApplyUDPBuffers raises the socket buffers on a best-effort basis.
func ApplyUDPBuffers(conn *net.UDPConn, size int) UDPTuneResult {
	result := UDPTuneResult{
		Requested: clamp(size, minUDPBuffer, maxUDPBuffer),
		Status:    StatusOK,
	}
	if conn == nil {
		result.Status = StatusNA
		result.Err = "no access to underlying UDPConn"
		return result
	}

	var errs []string
	if err := conn.SetReadBuffer(result.Requested); err != nil {
		errs = append(errs, "read: "+err.Error())
	}
	if err := conn.SetWriteBuffer(result.Requested); err != nil {
		errs = append(errs, "write: "+err.Error())
	}
	if len(errs) > 0 {
		result.Status = StatusDenied
		result.Err = strings.Join(errs, "; ")
	}
	return result
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
