package server_test

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"udpfs/internal/config"
	"udpfs/internal/metrics"
	"udpfs/internal/proto"
	"udpfs/internal/server"
	"udpfs/internal/tree"
)

// root/a.txt (1000 bytes), root/sub/f ("hello"), root/empty
func fixture(t *testing.T) (string, []byte) {
	t.Helper()

	content := make([]byte, 1000)
	for i := range content {
		content[i] = byte(i % 251)
	}

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), content, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "empty"), nil, 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "f"), []byte("hello"), 0o600))

	return root, content
}

func newResponder(t *testing.T, root string) (*server.Responder, *metrics.Responder) {
	t.Helper()

	tr, err := tree.Build(root)
	require.NoError(t, err)

	m := metrics.NewResponder(nil)
	r := server.New(config.Default().Server, tr, m)
	t.Cleanup(r.Close)

	return r, m
}

func TestHandleFileSlices(t *testing.T) {
	root, content := fixture(t)
	r, _ := newResponder(t, root)

	var sizes []int
	var got []byte
	for k := uint32(1); k <= 3; k++ {
		res, err := r.Handle(proto.NewRequest(1, k))
		require.NoError(t, err)

		require.Equal(t, proto.Response, res.Kind)
		require.EqualValues(t, 1, res.Resource)
		require.Equal(t, k, res.Slice)
		require.EqualValues(t, 3, res.TotalSlices())

		sizes = append(sizes, len(res.Body))
		got = append(got, res.Body...)
	}

	require.Equal(t, []int{381, 381, 238}, sizes)
	require.Equal(t, content, got)
}

func TestHandleSliceOutOfRange(t *testing.T) {
	root, _ := fixture(t)
	r, _ := newResponder(t, root)

	res, err := r.Handle(proto.NewRequest(1, 4))
	require.NoError(t, err)
	require.Empty(t, res.Body)
	require.EqualValues(t, 3, res.TotalSlices())
}

func TestHandleRootListing(t *testing.T) {
	root, _ := fixture(t)
	r, _ := newResponder(t, root)

	res, err := r.Handle(proto.NewRequest(0, 1))
	require.NoError(t, err)
	require.EqualValues(t, 1, res.TotalSlices())
	require.Equal(t, "1:1000:a.txt\n2:0:empty\n3:0:sub/\n", string(res.Body))
}

func TestHandleEmptyFile(t *testing.T) {
	root, _ := fixture(t)
	r, _ := newResponder(t, root)

	res, err := r.Handle(proto.NewRequest(2, 1))
	require.NoError(t, err)
	require.Empty(t, res.Body)
	require.Zero(t, res.TotalSlices())
}

func TestHandleExactMultiple(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), bytes.Repeat([]byte("x"), 2*proto.SliceSize), 0o600))

	r, _ := newResponder(t, root)

	res, err := r.Handle(proto.NewRequest(1, 2))
	require.NoError(t, err)
	require.EqualValues(t, 2, res.TotalSlices())
	require.Len(t, res.Body, proto.SliceSize)
}

func TestHandleIdempotent(t *testing.T) {
	root, _ := fixture(t)
	r, _ := newResponder(t, root)

	for _, req := range []proto.Message{proto.NewRequest(0, 1), proto.NewRequest(1, 2), proto.NewRequest(1, 3)} {
		a, err := r.Handle(req)
		require.NoError(t, err)
		b, err := r.Handle(req)
		require.NoError(t, err)

		require.Equal(t, lo.Must(proto.Encode(a)), lo.Must(proto.Encode(b)))
	}
}

func TestHandleErrors(t *testing.T) {
	root, _ := fixture(t)
	r, _ := newResponder(t, root)

	_, err := r.Handle(proto.NewRequest(99, 1))
	require.ErrorIs(t, err, server.ErrNotFound)

	_, err = r.Handle(proto.NewResponse(proto.NewRequest(1, 1), nil, 3))
	require.ErrorIs(t, err, server.ErrNotRequest)

	require.NoError(t, os.Remove(filepath.Join(root, "sub", "f")))
	_, err = r.Handle(proto.NewRequest(4, 1))
	require.ErrorIs(t, err, server.ErrNotFileOrDirectory)
}

func TestHandleSpecialFile(t *testing.T) {
	root, _ := fixture(t)

	tr, err := tree.Build(root)
	require.NoError(t, err)

	// a dangling symlink stays in the snapshot but is neither file nor directory
	require.NoError(t, os.Remove(filepath.Join(root, "empty")))
	require.NoError(t, os.Symlink(filepath.Join(root, "nowhere"), filepath.Join(root, "empty")))

	r := server.New(config.Default().Server, tr, nil)
	t.Cleanup(r.Close)

	_, err = r.Handle(proto.NewRequest(2, 1))
	require.ErrorIs(t, err, server.ErrNotFileOrDirectory)
}

func startServer(t *testing.T, root string, workers int) (net.Addr, *metrics.Responder) {
	t.Helper()

	tr, err := tree.Build(root)
	require.NoError(t, err)

	cfg := config.Default().Server
	cfg.Address = "127.0.0.1:0"
	cfg.Workers = workers

	ctx, cancel := context.WithCancel(context.Background())

	conn, err := server.Listen(ctx, cfg)
	require.NoError(t, err)

	m := metrics.NewResponder(nil)
	r := server.New(cfg, tr, m)

	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx, conn) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		r.Close()
	})

	return conn.LocalAddr(), m
}

func exchange(t *testing.T, conn net.Conn, frame []byte) (proto.Message, bool) {
	t.Helper()

	_, err := conn.Write(frame)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))

	buf := make([]byte, proto.MessageSize)
	n, err := conn.Read(buf)
	if err != nil {
		return proto.Message{}, false
	}

	res, err := proto.Decode(buf[:n])
	require.NoError(t, err)

	return res, true
}

func TestServeSurvivesBadDatagrams(t *testing.T) {
	root, content := fixture(t)

	for _, workers := range []int{0, 4} {
		addr, m := startServer(t, root, workers)

		conn, err := net.Dial("udp", addr.String())
		require.NoError(t, err)
		defer conn.Close()

		_, ok := exchange(t, conn, []byte("garbage"))
		require.False(t, ok)

		corrupt := lo.Must(proto.Encode(proto.NewRequest(1, 1)))
		corrupt[5] ^= 0xff
		_, ok = exchange(t, conn, corrupt)
		require.False(t, ok)

		_, ok = exchange(t, conn, lo.Must(proto.Encode(proto.NewRequest(1000, 1))))
		require.False(t, ok, "unknown ids get no reply")

		_, ok = exchange(t, conn, lo.Must(proto.Encode(proto.NewResponse(proto.NewRequest(1, 1), nil, 1))))
		require.False(t, ok)

		res, ok := exchange(t, conn, lo.Must(proto.Encode(proto.NewRequest(1, 3))))
		require.True(t, ok)
		require.Equal(t, content[762:], res.Body)

		require.InDelta(t, 5, testutil.ToFloat64(m.Received), 0)
		// counted after the write, so it may trail the reply
		require.Eventually(t, func() bool {
			return testutil.ToFloat64(m.Sent) == 1
		}, time.Second, 10*time.Millisecond)
		require.InDelta(t, 2, testutil.ToFloat64(m.Dropped.WithLabelValues(metrics.DropMalformed)), 0)
		require.InDelta(t, 1, testutil.ToFloat64(m.Dropped.WithLabelValues(metrics.DropNotFound)), 0)
		require.InDelta(t, 1, testutil.ToFloat64(m.Dropped.WithLabelValues(metrics.DropNotRequest)), 0)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	root, _ := fixture(t)

	tr, err := tree.Build(root)
	require.NoError(t, err)

	cfg := config.Default().Server
	cfg.Address = "127.0.0.1:0"

	conn, err := server.Listen(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.New(cfg, tr, nil).Serve(ctx, conn) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeAnswersQueuedRequestsOnCancel(t *testing.T) {
	root, _ := fixture(t)

	tr, err := tree.Build(root)
	require.NoError(t, err)

	cfg := config.Default().Server
	cfg.Address = "127.0.0.1:0"
	cfg.Workers = 2

	conn, err := server.Listen(context.Background(), cfg)
	require.NoError(t, err)

	m := metrics.NewResponder(nil)
	r := server.New(cfg, tr, m)
	t.Cleanup(r.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx, conn) }()

	c, err := net.Dial("udp", conn.LocalAddr().String())
	require.NoError(t, err)
	defer c.Close()

	for k := uint32(1); k <= 3; k++ {
		for i := 0; i < 10; i++ {
			_, err := c.Write(lo.Must(proto.Encode(proto.NewRequest(1, k))))
			require.NoError(t, err)
		}
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Received) >= 1
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	require.Zero(t, testutil.ToFloat64(m.Dropped.WithLabelValues(metrics.DropSend)))
	require.Equal(t, testutil.ToFloat64(m.Received), testutil.ToFloat64(m.Sent))

	_, err = conn.WriteTo([]byte("x"), c.LocalAddr())
	require.ErrorIs(t, err, net.ErrClosed)
}

func TestListenEmptyHost(t *testing.T) {
	cfg := config.Default().Server
	cfg.Address = ":0"

	conn, err := server.Listen(context.Background(), cfg)
	require.NoError(t, err)
	defer conn.Close()

	addr := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	require.True(t, addr.Addr().IsUnspecified())
	require.NotZero(t, addr.Port())
}
