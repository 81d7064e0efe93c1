package client

import (
	"context"
	"fmt"
	"strings"

	"udpfs/internal/pkg/bm"
	"udpfs/internal/proto"
	"udpfs/internal/tree"
)

// Fetch returns the whole content of resource id: file bytes or directory listing.
// Slices are requested in order; any slice failing fails the fetch and nothing is returned.
func (s *Session) Fetch(ctx context.Context, id uint32) ([]byte, error) {
	monitor := newMonitor()
	defer monitor.Done()

	s.resource = id
	s.filled = bm.New()
	s.duplicates = 0

	first, err := s.fetchSlice(ctx, proto.NewRequest(id, 1))
	if err != nil {
		return nil, err
	}

	monitor.Update(len(first.Body))
	s.filled.Set(1)

	total := first.TotalSlices()
	switch total {
	case 0:
		return []byte{}, nil
	case 1:
		logDone(s.log, id, s.filled.Count(), s.duplicates, monitor)
		return first.Body, nil
	}

	if size := uint64(total) * proto.SliceSize; size > uint64(s.cfg.MaxResourceSize) {
		return nil, fmt.Errorf("%w: resource %d has %d slices, limit is %d bytes", ErrTooLarge, id, total, s.cfg.MaxResourceSize)
	}

	if len(first.Body) != proto.SliceSize {
		return nil, fmt.Errorf("%w: resource %d slice 1 has %d bytes", ErrShortSlice, id, len(first.Body))
	}

	buf := make([]byte, int(total)*proto.SliceSize)
	copy(buf, first.Body)

	for k := uint32(2); k < total; k++ {
		res, err := s.fetchSlice(ctx, proto.NewRequest(id, k))
		if err != nil {
			return nil, err
		}

		if res.TotalSlices() != total {
			return nil, fmt.Errorf("%w: resource %d went from %d to %d slices", ErrTotalChanged, id, total, res.TotalSlices())
		}

		if len(res.Body) != proto.SliceSize {
			return nil, fmt.Errorf("%w: resource %d slice %d has %d bytes", ErrShortSlice, id, k, len(res.Body))
		}

		copy(buf[int(k-1)*proto.SliceSize:], res.Body)
		s.filled.Set(k)
		monitor.Update(len(res.Body))
	}

	// only the last slice can be short
	last, err := s.fetchSlice(ctx, proto.NewRequest(id, total))
	if err != nil {
		return nil, err
	}

	if last.TotalSlices() != total {
		return nil, fmt.Errorf("%w: resource %d went from %d to %d slices", ErrTotalChanged, id, total, last.TotalSlices())
	}

	offset := int(total-1) * proto.SliceSize
	copy(buf[offset:], last.Body)
	s.filled.Set(total)
	monitor.Update(len(last.Body))

	logDone(s.log, id, s.filled.Count(), s.duplicates, monitor)

	return buf[:offset+len(last.Body)], nil
}

// FetchByPath resolves a '/' separated path from the root, one listing at a time,
// and returns the content of the final entry. Directories are named with their
// trailing slash, "sub/f" walks into "sub/" then picks "f". An empty path
// returns the root listing.
func (s *Session) FetchByPath(ctx context.Context, path string) ([]byte, error) {
	data, err := s.Fetch(ctx, 0)
	if err != nil {
		return nil, err
	}

	for _, segment := range splitPath(path) {
		entry, ok := tree.Find(tree.ParseListing(string(data)), segment)
		if !ok {
			return nil, fmt.Errorf("%w: %q in %q", ErrNotFound, segment, path)
		}

		s.log.Debug().Str("segment", segment).Uint32("resource", entry.ID).Msg("resolved path segment")

		data, err = s.Fetch(ctx, entry.ID)
		if err != nil {
			return nil, err
		}
	}

	return data, nil
}

// splitPath keeps the separator on each segment: "a/b/c" is ["a/", "b/", "c"].
func splitPath(path string) []string {
	path = strings.TrimLeft(path, "/")

	var segments []string
	for _, s := range strings.SplitAfter(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}

	return segments
}
