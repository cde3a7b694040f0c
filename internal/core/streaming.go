package core

// streaming.go wraps import file readers so the parser never sees a BOM,
// never sees invalid UTF-8 and never reads past the configured size cap.
//
// Use WrapForParsing to apply all transforms in the correct order.

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// BOMSkippingReader drops a leading UTF-8 byte order mark, which spreadsheet
// exports on Windows add to CSV files.
type BOMSkippingReader struct {
	reader  io.Reader
	checked bool
	head    []byte // bytes read during the BOM check that belong to the caller
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{reader: r}
}

// Read implements io.Reader.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true
		buf := make([]byte, len(utf8BOM))
		n, err := io.ReadFull(r.reader, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return 0, err
		}
		if !bytes.Equal(buf[:n], utf8BOM) {
			r.head = buf[:n]
		}
	}

	if len(r.head) > 0 {
		n := copy(p, r.head)
		r.head = r.head[n:]
		return n, nil
	}

	return r.reader.Read(p)
}

// StreamingUTF8Sanitizer replaces invalid UTF-8 bytes with '?' as data
// streams through. A multi-byte rune split across two reads is carried over
// to the next call rather than being mangled.
type StreamingUTF8Sanitizer struct {
	reader  io.Reader
	pending []byte
}

// NewStreamingUTF8Sanitizer creates a new streaming UTF-8 sanitizer.
func NewStreamingUTF8Sanitizer(r io.Reader) *StreamingUTF8Sanitizer {
	return &StreamingUTF8Sanitizer{
		reader:  r,
		pending: make([]byte, 0, utf8.UTFMax),
	}
}

// Read implements io.Reader.
func (s *StreamingUTF8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := copy(p, s.pending)
	s.pending = s.pending[:0]

	n, err := s.reader.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	return s.sanitize(p[:n], err == io.EOF), err
}

// sanitize rewrites data in place and returns the number of bytes to hand
// back to the caller. Unless atEOF, a trailing partial rune is held back.
func (s *StreamingUTF8Sanitizer) sanitize(data []byte, atEOF bool) int {
	end := len(data)
	if !atEOF {
		if tail := partialRuneSuffix(data); tail > 0 {
			s.pending = append(s.pending, data[end-tail:]...)
			end -= tail
		}
	}

	if utf8.Valid(data[:end]) {
		return end
	}

	write := 0
	for read := 0; read < end; {
		r, size := utf8.DecodeRune(data[read:end])
		if r == utf8.RuneError && size == 1 {
			data[write] = '?'
			write++
			read++
			continue
		}
		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}
	return write
}

// partialRuneSuffix returns how many bytes at the end of data form the
// start of a multi-byte rune whose remaining bytes have not arrived yet.
func partialRuneSuffix(data []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b&0xC0 == 0x80 {
			continue // continuation byte, keep walking back
		}
		if b < 0xC0 {
			return 0
		}
		if want := leadLen(b); i < want {
			return i
		}
		return 0
	}
	return 0
}

// leadLen returns the encoded length of a rune starting with lead byte b.
func leadLen(b byte) int {
	switch {
	case b >= 0xF0:
		return 4
	case b >= 0xE0:
		return 3
	case b >= 0xC0:
		return 2
	}
	return 1
}

// SizeGuardReader fails with ErrFileTooLarge once more than max bytes have
// been read. A max of zero or less disables the check.
type SizeGuardReader struct {
	reader    io.Reader
	max       int64
	BytesRead int64
}

// NewSizeGuardReader creates a reader that enforces a size cap.
func NewSizeGuardReader(r io.Reader, max int64) *SizeGuardReader {
	return &SizeGuardReader{reader: r, max: max}
}

// Read implements io.Reader.
func (r *SizeGuardReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	if r.max > 0 && r.BytesRead > r.max {
		return n, fmt.Errorf("%w: exceeds %d bytes", ErrFileTooLarge, r.max)
	}
	return n, err
}

// WrapForParsing applies the size cap, BOM removal and UTF-8 sanitization.
// The size cap wraps the raw source so it counts bytes as uploaded.
func WrapForParsing(r io.Reader, maxBytes int64) io.Reader {
	guarded := NewSizeGuardReader(r, maxBytes)
	return NewStreamingUTF8Sanitizer(NewBOMSkippingReader(guarded))
}
