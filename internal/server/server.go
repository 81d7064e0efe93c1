package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/trim21/errgo"
	"go.uber.org/atomic"

	"udpfs/internal/config"
	"udpfs/internal/metrics"
	"udpfs/internal/pkg/filepool"
	"udpfs/internal/pkg/pool"
	"udpfs/internal/proto"
	"udpfs/internal/slice"
	"udpfs/internal/tree"
	"udpfs/internal/util"
)

var (
	ErrNotRequest         = errors.New("not a request")
	ErrNotFound           = errors.New("resource not found")
	ErrNotFileOrDirectory = errors.New("not a file or directory")
)

// Responder answers slice requests for one tree snapshot.
//
// Failed requests get no reply at all, the client sees them as timeouts.
type Responder struct {
	log     zerolog.Logger
	tree    *tree.Tree
	files   *filepool.Pool
	metrics *metrics.Responder
	bufs    *pool.Pool[*pool.Buffer]
	cfg     config.Server
	ttl     time.Duration
	closed  atomic.Bool
}

func New(cfg config.Server, t *tree.Tree, m *metrics.Responder) *Responder {
	if m == nil {
		m = metrics.NewResponder(nil)
	}

	ttl := cfg.FileCacheTTL.Duration
	if ttl <= 0 {
		ttl = time.Minute
	}

	size := cfg.FileCacheSize
	if size <= 0 {
		size = 128
	}

	m.Resources.Set(float64(t.Len()))

	return &Responder{
		cfg:     cfg,
		ttl:     ttl,
		tree:    t,
		files:   filepool.New(size, ttl),
		metrics: m,
		bufs:    pool.NewBuffers(proto.MessageSize),
		log:     log.With().Str("component", "server").Logger(),
	}
}

// Listen opens the UDP socket described by cfg.
func Listen(ctx context.Context, cfg config.Server) (net.PacketConn, error) {
	addr, err := util.ParseAddrPort(ctx, cfg.Address)
	if err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", addr.String())
	if err != nil {
		return nil, errgo.Wrap(err, fmt.Sprintf("failed to listen on %s", addr))
	}

	if udp, ok := conn.(*net.UDPConn); ok {
		if cfg.ReadBuffer > 0 {
			if err := udp.SetReadBuffer(int(cfg.ReadBuffer)); err != nil {
				log.Warn().Err(err).Msg("failed to set socket read buffer")
			}
		}

		if cfg.WriteBuffer > 0 {
			if err := udp.SetWriteBuffer(int(cfg.WriteBuffer)); err != nil {
				log.Warn().Err(err).Msg("failed to set socket write buffer")
			}
		}
	}

	return conn, nil
}

// Serve reads requests from conn until ctx is done. It then stops reading,
// waits for requests already handed to workers to be answered, closes
// conn and returns nil.
// A malformed or unanswerable datagram never stops the loop.
func (r *Responder) Serve(ctx context.Context, conn net.PacketConn) error {
	// deferred first so the socket outlives the workers
	defer conn.Close()

	var workers *ants.Pool
	if r.cfg.Workers > 0 {
		p, err := ants.NewPool(r.cfg.Workers, ants.WithPreAlloc(true))
		if err != nil {
			return errgo.Wrap(err, "failed to create worker pool")
		}

		workers = p
		defer func() {
			if err := workers.ReleaseTimeout(5 * time.Second); err != nil {
				r.log.Warn().Err(err).Msg("workers did not stop in time")
			}
		}()
	}

	stop := make(chan struct{})
	wg := conc.NewWaitGroup()
	wg.Go(func() {
		sweep := time.NewTicker(r.ttl)
		defer sweep.Stop()

		for {
			select {
			case <-ctx.Done():
				r.closed.Store(true)
				// unblock ReadFrom, writes from workers keep working
				if err := conn.SetReadDeadline(time.Now()); err != nil {
					_ = conn.Close()
				}
				return
			case <-stop:
				return
			case <-sweep.C:
				if n := r.files.Expire(); n > 0 {
					r.log.Debug().Int("closed", n).Msg("closed idle file handles")
				}
			}
		}
	})

	defer func() {
		close(stop)
		wg.Wait()
	}()

	r.log.Info().Stringer("address", conn.LocalAddr()).Int("workers", r.cfg.Workers).Msg("serving")

	for {
		buf := r.bufs.Get()

		n, addr, err := conn.ReadFrom(buf.Full())
		if err != nil {
			r.bufs.Put(buf)

			if r.closed.Load() {
				r.log.Info().Msg("server stopped")
				return nil
			}

			if errors.Is(err, net.ErrClosed) {
				return errgo.Wrap(err, "socket closed")
			}

			// e.g. ICMP errors reported on the socket, nothing to do but keep reading
			r.log.Warn().Err(err).Msg("failed to read datagram")
			continue
		}

		buf.B = buf.B[:n]

		if workers == nil {
			r.serveOne(conn, buf.B, addr)
			r.bufs.Put(buf)
			continue
		}

		err = workers.Submit(func() {
			defer r.bufs.Put(buf)
			r.serveOne(conn, buf.B, addr)
		})
		if err != nil {
			r.bufs.Put(buf)
			r.log.Warn().Err(err).Msg("failed to submit request")
			r.metrics.Drop(metrics.DropIO)
		}
	}
}

// Close drops cached file handles. Call it after Serve returned.
func (r *Responder) Close() {
	r.files.Purge()
}

func (r *Responder) serveOne(conn net.PacketConn, frame []byte, addr net.Addr) {
	r.metrics.Received.Inc()

	l := r.log.With().Stringer("from", addr).Logger()
	l.Trace().Hex("frame", frame).Msg("received frame")

	req, err := proto.Decode(frame)
	if err != nil {
		l.Warn().Err(err).Msg("dropping malformed datagram")
		r.metrics.Drop(metrics.DropMalformed)
		return
	}

	res, err := r.Handle(req)
	if err != nil {
		l.Warn().Err(err).Uint32("resource", req.Resource).Uint32("slice", req.Slice).Msg("dropping request")
		r.metrics.Drop(dropReason(err))
		return
	}

	b, err := proto.Encode(res)
	if err != nil {
		l.Error().Err(err).Msg("failed to encode response")
		r.metrics.Drop(metrics.DropIO)
		return
	}

	l.Trace().Hex("frame", b).Msg("sending frame")

	if _, err := conn.WriteTo(b, addr); err != nil {
		l.Warn().Err(err).Msg("failed to send response")
		r.metrics.Drop(metrics.DropSend)
		return
	}

	r.metrics.Sent.Inc()
	r.metrics.SentBytes.Add(float64(len(res.Body)))
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrNotRequest):
		return metrics.DropNotRequest
	case errors.Is(err, ErrNotFound):
		return metrics.DropNotFound
	case errors.Is(err, ErrNotFileOrDirectory):
		return metrics.DropNotServed
	default:
		return metrics.DropIO
	}
}

// Handle computes the response to req.
func (r *Responder) Handle(req proto.Message) (proto.Message, error) {
	if req.Kind != proto.Request {
		return proto.Message{}, fmt.Errorf("%w: got %s", ErrNotRequest, req.Kind)
	}

	p, ok := r.tree.Path(req.Resource)
	if !ok {
		return proto.Message{}, fmt.Errorf("%w: id %d, tree has %d entries", ErrNotFound, req.Resource, r.tree.Len())
	}

	body, total, err := r.content(p, req.Slice)
	if err != nil {
		return proto.Message{}, err
	}

	r.log.Debug().Uint32("resource", req.Resource).Uint32("slice", req.Slice).
		Uint32("total", total).Int("size", len(body)).Msg("answering request")

	return proto.NewResponse(req, body, total), nil
}

func (r *Responder) content(path string, k uint32) ([]byte, uint32, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s: %w", ErrNotFileOrDirectory, path, err)
		}

		return nil, 0, err
	}

	switch {
	case info.IsDir():
		listing, err := r.tree.Listing(path)
		if err != nil {
			return nil, 0, err
		}

		body, total := slice.FromBytes([]byte(listing), k)
		return body, total, nil

	case info.Mode().IsRegular():
		f, err := r.files.Open(path, info)
		if err != nil {
			return nil, 0, err
		}
		defer f.Release()

		stat, err := f.File.Stat()
		if err != nil {
			return nil, 0, err
		}

		return slice.FromReaderAt(f.File, stat.Size(), k)

	default:
		return nil, 0, fmt.Errorf("%w: %s is %s", ErrNotFileOrDirectory, path, info.Mode().Type())
	}
}
