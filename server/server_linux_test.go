//go:build linux

package server_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/text/transform"

	"github.com/momentics/hioload-pipe/control"
	"github.com/momentics/hioload-pipe/server"
	"github.com/momentics/hioload-pipe/transforms"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const ioTimeout = 5 * time.Second

func startServer(t *testing.T, mutate func(*server.Config), opts ...server.ServerOption) *server.Server {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	if mutate != nil {
		mutate(cfg)
	}
	s, err := server.New(cfg, opts...)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background()) }()
	t.Cleanup(func() {
		require.NoError(t, s.Shutdown())
		if err := <-errc; err != nil {
			require.ErrorIs(t, err, server.ErrServerClosed)
		}
	})
	return s
}

func dial(t *testing.T, s *server.Server) *net.TCPConn {
	t.Helper()
	c, err := net.DialTimeout("tcp", s.Addr(), ioTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.SetDeadline(time.Now().Add(ioTimeout)))
	return c.(*net.TCPConn)
}

func readN(t *testing.T, c net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := io.ReadFull(c, buf)
	require.NoError(t, err)
	return buf
}

func digits(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = '0' + byte(i%10)
	}
	return b
}

func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	transforms.ReverseBytes(out, b)
	return out
}

func TestReverseTenBytes(t *testing.T) {
	s := startServer(t, nil)
	c := dial(t, s)

	_, err := c.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, "9876543210", string(readN(t, c, 10)))
}

func TestPayloadEqualToBufferSize(t *testing.T) {
	s := startServer(t, nil)
	c := dial(t, s)

	payload := digits(1024)
	_, err := c.Write(payload)
	require.NoError(t, err)
	got := readN(t, c, len(payload))
	assert.Equal(t, reversed(payload), got)
}

func TestSeveralRoundTripsOnOneConnection(t *testing.T) {
	s := startServer(t, nil)
	c := dial(t, s)

	for _, msg := range []string{"a", "hello", strings.Repeat("xy", 300)} {
		_, err := c.Write([]byte(msg))
		require.NoError(t, err)
		assert.Equal(t, string(reversed([]byte(msg))), string(readN(t, c, len(msg))))
	}
}

func TestSingleInputBufferBackToBack(t *testing.T) {
	s := startServer(t, func(cfg *server.Config) { cfg.InputBuffers = 1 })
	c := dial(t, s)

	_, err := c.Write([]byte("0123456789"))
	require.NoError(t, err)
	// Let the first send land in its own read cycle before the second follows.
	require.Eventually(t, func() bool {
		return s.Metrics().Get(control.MetricBytesRead) >= 10
	}, ioTimeout, time.Millisecond)
	_, err = c.Write([]byte("abcdefghij"))
	require.NoError(t, err)

	// Each send comes back reversed on its own and in order; a merged or
	// overwritten unit would change the result.
	assert.Equal(t, "9876543210jihgfedcba", string(readN(t, c, 20)))
}

// gatedReverse blocks the processing loop inside its first Transform call until
// the gate opens.
type gatedReverse struct {
	transforms.Reverse
	entered, gate chan struct{}
	once          sync.Once
}

func (g *gatedReverse) Transform(dst, src []byte, atEOF bool) (int, int, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.gate
	})
	return g.Reverse.Transform(dst, src, atEOF)
}

func TestReadPausesWhileInputPoolExhausted(t *testing.T) {
	tr := &gatedReverse{entered: make(chan struct{}), gate: make(chan struct{})}
	s := startServer(t, func(cfg *server.Config) { cfg.InputBuffers = 1 }, server.WithTransformer(tr))
	c := dial(t, s)

	_, err := c.Write([]byte("0123456789"))
	require.NoError(t, err)
	select {
	case <-tr.entered:
	case <-time.After(ioTimeout):
		t.Fatal("first buffer never reached the transform")
	}

	// The only input buffer is held by the processing side.
	_, err = c.Write([]byte("abcdefghij"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.Metrics().Get(control.MetricReadBackpressure) >= 1
	}, ioTimeout, time.Millisecond)

	close(tr.gate)
	assert.Equal(t, "9876543210jihgfedcba", string(readN(t, c, 20)))
}

func TestProcessingThrottlesOnSlowReader(t *testing.T) {
	s := startServer(t, func(cfg *server.Config) {
		cfg.OutputBuffers = 1
		cfg.InputBuffers = 2
		cfg.Transform = "identity"
	})
	c := dial(t, s)
	require.NoError(t, c.SetDeadline(time.Now().Add(4*ioTimeout)))

	payload := digits(16 << 20)
	werr := make(chan error, 1)
	go func() {
		_, err := c.Write(payload)
		werr <- err
	}()

	// Nobody reads yet: the socket fills, the output pool runs dry and then the
	// input pool follows.
	require.Eventually(t, func() bool {
		return s.Metrics().Get(control.MetricProcessBackpressure) >= 1 &&
			s.Metrics().Get(control.MetricReadBackpressure) >= 1
	}, 2*ioTimeout, 5*time.Millisecond)

	got := readN(t, c, len(payload))
	require.NoError(t, <-werr)
	assert.True(t, bytes.Equal(payload, got), "stream must arrive intact and in order")
}

func TestClientDisconnectMidSend(t *testing.T) {
	tr := &gatedReverse{entered: make(chan struct{}), gate: make(chan struct{})}
	s := startServer(t, func(cfg *server.Config) { cfg.InputBuffers = 1 }, server.WithTransformer(tr))

	c := dial(t, s)
	_, err := c.Write([]byte("0123456789"))
	require.NoError(t, err)
	<-tr.entered

	// The truncated unit and the FIN queue up behind the exhausted input pool.
	_, err = c.Write([]byte("01234"))
	require.NoError(t, err)
	require.NoError(t, c.CloseWrite())
	require.Eventually(t, func() bool {
		return s.Metrics().Get(control.MetricReadBackpressure) >= 1
	}, ioTimeout, time.Millisecond)
	close(tr.gate)

	got, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, "9876543210", string(got), "only the complete unit comes back")
	require.Eventually(t, func() bool { return s.Connections() == 0 }, ioTimeout, time.Millisecond)

	next := dial(t, s)
	_, err = next.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, "9876543210", string(readN(t, next, 10)))
}

// doubler writes every input byte twice and does not announce its output size.
type doubler struct{ transform.NopResetter }

func (doubler) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		if nDst+2 > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		dst[nDst], dst[nDst+1] = src[nSrc], src[nSrc]
		nDst += 2
		nSrc++
	}
	return nDst, nSrc, nil
}

func TestExpandingTransformOutput(t *testing.T) {
	for _, tc := range []struct {
		name      string
		maxBuffer int
		units     int64
	}{
		{name: "grows to fit", maxBuffer: 64, units: 1},
		{name: "splits at max buffer size", maxBuffer: 8, units: 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := startServer(t, func(cfg *server.Config) {
				cfg.BufferSize = 8
				cfg.MaxBufferSize = tc.maxBuffer
			}, server.WithTransformer(doubler{}))
			c := dial(t, s)

			_, err := c.Write([]byte("abcdefgh"))
			require.NoError(t, err)
			assert.Equal(t, "aabbccddeeffgghh", string(readN(t, c, 16)))
			assert.Equal(t, tc.units, s.Metrics().Get(control.MetricBuffersTransformed))
		})
	}
}

// session is one client connection of the randomized run. cut > 0 closes the
// connection after cut bytes, with a RST when reset is set and a FIN otherwise.
type session struct {
	payload []byte
	cut     int
	reset   bool
}

func (p session) run(addr string) error {
	nc, err := net.DialTimeout("tcp", addr, ioTimeout)
	if err != nil {
		return err
	}
	c := nc.(*net.TCPConn)
	defer c.Close()
	if err := c.SetDeadline(time.Now().Add(4 * ioTimeout)); err != nil {
		return err
	}

	if p.cut > 0 {
		sent := p.payload[:p.cut]
		if _, err := c.Write(sent); err != nil {
			return err
		}
		if p.reset {
			if err := c.SetLinger(0); err != nil {
				return err
			}
			return c.Close()
		}
		if err := c.CloseWrite(); err != nil {
			return err
		}
		// The server may reset a socket it closed with input unread.
		got, _ := io.ReadAll(c)
		if !bytes.HasPrefix(sent, got) {
			return fmt.Errorf("after FIN: got %d bytes that are not a prefix of the %d sent", len(got), len(sent))
		}
		return nil
	}

	werr := make(chan error, 1)
	go func() {
		_, err := c.Write(p.payload)
		werr <- err
	}()
	got := make([]byte, len(p.payload))
	if _, err := io.ReadFull(c, got); err != nil {
		return fmt.Errorf("read echo of %d bytes: %w", len(p.payload), err)
	}
	if err := <-werr; err != nil {
		return err
	}
	if !bytes.Equal(p.payload, got) {
		return fmt.Errorf("echo of %d bytes differs", len(p.payload))
	}
	return nil
}

// Random sizes, abrupt resets and half-closes against one-slot pools and tiny
// buffers must never break pool ownership: every echo is exact and every
// connection is released.
func TestRandomNetworkEvents(t *testing.T) {
	const (
		seed     = 7
		workers  = 4
		sessions = 48
		maxSize  = 32 << 10
	)
	rng := rand.New(rand.NewSource(seed))
	plans := make([]session, sessions)
	for i := range plans {
		p := session{payload: make([]byte, 1+rng.Intn(maxSize))}
		rng.Read(p.payload)
		switch rng.Intn(3) {
		case 1:
			p.cut = 1 + rng.Intn(len(p.payload))
		case 2:
			p.cut = 1 + rng.Intn(len(p.payload))
			p.reset = true
		}
		plans[i] = p
	}

	s := startServer(t, func(cfg *server.Config) {
		cfg.InputBuffers = 1
		cfg.OutputBuffers = 1
		cfg.BufferSize = 7
		cfg.MaxConnections = 0
		cfg.Backlog = workers
		cfg.Transform = "identity"
	})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < len(plans); i += workers {
				assert.NoError(t, plans[i].run(s.Addr()), "seed %d session %d", seed, i)
			}
		}(w)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return s.Connections() == 0 }, ioTimeout, time.Millisecond)
	st := s.Stats()
	assert.Equal(t, st.Counters[control.MetricConnectionsAccepted], st.Counters[control.MetricConnectionsClosed])
	assert.Positive(t, st.Counters[control.MetricConnectionsAccepted])
}

func TestConnectionLimitQueuesPeers(t *testing.T) {
	s := startServer(t, func(cfg *server.Config) { cfg.MaxConnections = 1 })

	first := dial(t, s)
	_, err := first.Write([]byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, "ba", string(readN(t, first, 2)))

	// The second peer completes the handshake in the backlog but is not served.
	second := dial(t, s)
	_, err = second.Write([]byte("cd"))
	require.NoError(t, err)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err = second.Read(make([]byte, 2))
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
	assert.Equal(t, 1, s.Connections())

	require.NoError(t, first.Close())
	require.NoError(t, second.SetReadDeadline(time.Now().Add(ioTimeout)))
	assert.Equal(t, "dc", string(readN(t, second, 2)))

	st := s.Stats()
	assert.Equal(t, int64(2), st.Counters[control.MetricConnectionsAccepted])
}

func TestShutdownClosesLiveConnections(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	s, err := server.New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	c, err := net.DialTimeout("tcp", s.Addr(), ioTimeout)
	require.NoError(t, err)
	defer c.Close()
	require.Eventually(t, func() bool { return s.Connections() == 1 }, ioTimeout, time.Millisecond)

	cancel()
	require.NoError(t, <-errc)
	assert.Zero(t, s.Connections())

	require.NoError(t, c.SetReadDeadline(time.Now().Add(ioTimeout)))
	_, err = c.Read(make([]byte, 1))
	assert.Error(t, err, "server side closed the socket")

	require.NoError(t, s.Shutdown())
	assert.ErrorIs(t, s.Run(context.Background()), server.ErrServerClosed)
}

func TestDebugStateReportsPools(t *testing.T) {
	s := startServer(t, nil)
	c := dial(t, s)
	_, err := c.Write([]byte("x"))
	require.NoError(t, err)
	readN(t, c, 1)

	state := s.DebugState()
	assert.Equal(t, 1, state["server.connections"])
	assert.Equal(t, s.Addr(), state["server.addr"])
	assert.Contains(t, state, "loop.io.pending")
	assert.Contains(t, state, "loop.proc.pending")

	conns := s.ConnectionState()
	require.Len(t, conns, 1)
	for k := range conns {
		assert.True(t, strings.HasPrefix(k, "conn."))
		assert.Contains(t, state, k)
	}
	assert.Equal(t, int64(1), s.Stats().Counters[control.MetricBytesWritten])
}

func TestShutdownWithoutRun(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	s, err := server.New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Shutdown())
	require.NoError(t, s.Shutdown())
	assert.ErrorIs(t, s.Run(context.Background()), server.ErrServerClosed)
}
