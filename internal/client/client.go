package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mxk/go-flowrate/flowrate"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/trim21/errgo"

	"udpfs/internal/config"
	"udpfs/internal/pkg/bm"
	"udpfs/internal/proto"
)

var (
	ErrTimeout        = errors.New("timed out waiting for response")
	ErrRetryExhausted = errors.New("retry budget exhausted")
	ErrNotFound       = errors.New("path not found")
	ErrShortSlice     = errors.New("short interior slice")
	ErrTotalChanged   = errors.New("slice count changed during fetch")
	ErrTooLarge       = errors.New("resource larger than allowed")
)

type Client struct {
	log zerolog.Logger
	cfg config.Client
}

func New(cfg config.Client) *Client {
	return &Client{
		cfg: cfg,
		log: log.With().Str("component", "client").Logger(),
	}
}

// Dial opens a UDP socket on an ephemeral port connected to addr,
// so the kernel only delivers datagrams coming from addr.
func (c *Client) Dial(ctx context.Context, addr netip.AddrPort) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr.String())
	if err != nil {
		return nil, errgo.Wrap(err, fmt.Sprintf("failed to open socket to %s", addr))
	}

	return &Session{
		conn: conn,
		cfg:  c.cfg,
		log:  c.log.With().Stringer("server", addr).Logger(),
		recv:   make([]byte, proto.MessageSize),
		filled: bm.New(),
	}, nil
}

// Session fetches resources from one server, one request at a time.
// It is not safe for concurrent use.
type Session struct {
	conn net.Conn
	log  zerolog.Logger
	// slices of the current fetch already placed in the result
	filled     *bm.Bitmap
	recv       []byte
	cfg        config.Client
	resource   uint32
	duplicates int
}

func (s *Session) Close() error {
	return s.conn.Close()
}

// Duplicates is the number of responses for already received slices that
// arrived during the last fetch, typically the late answers to a resent request.
func (s *Session) Duplicates() int {
	return s.duplicates
}

// Fetch dials addr, fetches resource id and closes the socket.
func (c *Client) Fetch(ctx context.Context, addr netip.AddrPort, id uint32) ([]byte, error) {
	s, err := c.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	return s.Fetch(ctx, id)
}

// FetchByPath dials addr, resolves path and closes the socket.
func (c *Client) FetchByPath(ctx context.Context, addr netip.AddrPort, path string) ([]byte, error) {
	s, err := c.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	return s.FetchByPath(ctx, path)
}

// fetchSlice sends req until a matching response arrives.
//
// Send errors are retried after SendBackoff without limit. Each send waits
// up to Timeout for its answer; after Attempts timeouts the slice fails with
// ErrRetryExhausted. A datagram that fails to decode fails the slice at once.
func (s *Session) fetchSlice(ctx context.Context, req proto.Message) (proto.Message, error) {
	frame, err := proto.Encode(req)
	if err != nil {
		return proto.Message{}, err
	}

	l := s.log.With().Uint32("resource", req.Resource).Uint32("slice", req.Slice).Logger()

	var timeouts int
	for {
		if err := ctx.Err(); err != nil {
			return proto.Message{}, err
		}

		l.Trace().Hex("frame", frame).Msg("sending request")

		if _, err := s.conn.Write(frame); err != nil {
			l.Warn().Err(err).Msgf("failed to send request, retry in %s", s.cfg.SendBackoff)
			if err := sleep(ctx, s.cfg.SendBackoff.Duration); err != nil {
				return proto.Message{}, err
			}
			continue
		}

		res, err := s.receive(ctx, req)
		if err == nil {
			return res, nil
		}

		if !errors.Is(err, ErrTimeout) {
			return proto.Message{}, err
		}

		timeouts++
		l.Debug().Err(err).Int("timeouts", timeouts).Msg("no response")

		if timeouts >= s.cfg.Attempts {
			return proto.Message{}, fmt.Errorf("%w: resource %d slice %d, %d attempts: %w",
				ErrRetryExhausted, req.Resource, req.Slice, timeouts, err)
		}
	}
}

// receive reads until a response matching req arrives or the deadline of this attempt passes.
func (s *Session) receive(ctx context.Context, req proto.Message) (proto.Message, error) {
	deadline := time.Now().Add(s.cfg.Timeout.Duration)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return proto.Message{}, err
	}

	for {
		n, err := s.conn.Read(s.recv)
		if err != nil {
			if ctx.Err() != nil {
				return proto.Message{}, ctx.Err()
			}

			// refused and similar errors count against the budget like a timeout
			return proto.Message{}, fmt.Errorf("%w: %w", ErrTimeout, err)
		}

		s.log.Trace().Hex("frame", s.recv[:n]).Msg("received frame")

		res, err := proto.Decode(s.recv[:n])
		if err != nil {
			return proto.Message{}, err
		}

		if !proto.Matches(req, res) {
			if res.Kind == proto.Response && res.Resource == s.resource && s.filled.Get(res.Slice) {
				s.duplicates++
				s.log.Debug().Uint32("resource", res.Resource).Uint32("slice", res.Slice).
					Msg("discarding duplicate response for received slice")
				continue
			}

			s.log.Debug().Stringer("kind", res.Kind).Uint32("resource", res.Resource).
				Uint32("slice", res.Slice).Msg("discarding unrelated response")
			continue
		}

		return res, nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func newMonitor() *flowrate.Monitor {
	return flowrate.New(100*time.Millisecond, time.Second)
}

func logDone(l zerolog.Logger, id uint32, slices uint32, duplicates int, m *flowrate.Monitor) {
	st := m.Status()
	l.Debug().Uint32("resource", id).
		Uint32("slices", slices).
		Int("duplicates", duplicates).
		Str("size", humanize.IBytes(uint64(st.Bytes))).
		Str("rate", humanize.IBytes(uint64(st.AvgRate))+"/s").
		Stringer("duration", st.Duration).
		Msg("fetch done")
}
