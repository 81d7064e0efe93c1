package tree

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/valyala/bytebufferpool"
)

// Listing renders the current content of directory dir, one line per entry:
//
//	<id>:<size>:<name>   regular file
//	<id>:0:<name>/       directory
//
// Entries without an id in the snapshot, without readable metadata or with a
// name that is not valid UTF-8 are skipped.
func (t *Tree) Listing(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		l := t.log.With().Str("path", p).Logger()

		id, ok := t.index[p]
		if !ok {
			l.Debug().Msg("no id for entry, skipping")
			continue
		}

		info, err := os.Stat(p)
		if err != nil {
			l.Debug().Err(err).Msg("failed to stat entry, skipping")
			continue
		}

		name := e.Name()
		if !utf8.ValidString(name) || strings.ContainsRune(name, '\n') {
			l.Debug().Msg("entry name can't be listed, skipping")
			continue
		}

		buf.B = strconv.AppendUint(buf.B, uint64(id), 10)
		if info.IsDir() {
			buf.B = append(buf.B, ":0:"...)
			buf.B = append(buf.B, name...)
			buf.B = append(buf.B, '/', '\n')
			continue
		}

		buf.B = append(buf.B, ':')
		buf.B = strconv.AppendInt(buf.B, info.Size(), 10)
		buf.B = append(buf.B, ':')
		buf.B = append(buf.B, name...)
		buf.B = append(buf.B, '\n')
	}

	return buf.String(), nil
}

// Entry is one parsed listing line.
type Entry struct {
	Name string
	Size uint64
	ID   uint32
}

func (e Entry) IsDir() bool {
	return strings.HasSuffix(e.Name, "/")
}

// ParseListing parses the output of Listing. Lines that don't have the
// <id>:<size>:<name> shape are ignored.
func ParseListing(s string) []Entry {
	var entries []Entry

	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSuffix(line, "\r")

		fields := strings.SplitN(line, ":", 3)
		if len(fields) != 3 || fields[2] == "" {
			continue
		}

		id, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}

		size, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}

		entries = append(entries, Entry{ID: uint32(id), Size: size, Name: fields[2]})
	}

	return entries
}

// Find returns the entry named exactly name.
func Find(entries []Entry, name string) (Entry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}

	return Entry{}, false
}
