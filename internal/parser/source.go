package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/klauspost/compress/gzip"
)

// ErrUnknownSize is returned for sources whose total size cannot be determined
// up front, such as pipes or network streams.
var ErrUnknownSize = errors.New("cannot determine content size")

var gzipMagic = []byte{0x1f, 0x8b}

// ContentSize reports how many bytes remain to be read from r.
func ContentSize(r io.Reader) (int64, error) {
	switch v := r.(type) {
	case interface{ Len() int }:
		return int64(v.Len()), nil
	case io.Seeker:
		cur, err := v.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnknownSize, err)
		}
		end, err := v.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnknownSize, err)
		}
		if _, err := v.Seek(cur, io.SeekStart); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnknownSize, err)
		}
		return end - cur, nil
	case interface{ Size() int64 }:
		return v.Size(), nil
	case interface{ Stat() (fs.FileInfo, error) }:
		info, err := v.Stat()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnknownSize, err)
		}
		if !info.Mode().IsRegular() {
			return 0, ErrUnknownSize
		}
		return info.Size(), nil
	}
	return 0, ErrUnknownSize
}

// ReadSource reads the whole content of r into memory. The size must be known
// before reading; a short read is an error. Gzip-compressed content is
// decompressed.
func ReadSource(r io.Reader) ([]byte, error) {
	size, err := ContentSize(r)
	if err != nil {
		return nil, err
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}

	if IsGzip(data) {
		return Gunzip(data)
	}
	return data, nil
}

// IsGzip reports whether data starts with the gzip magic bytes.
func IsGzip(data []byte) bool {
	return bytes.HasPrefix(data, gzipMagic)
}

// Gunzip decompresses a gzip member held in memory.
func Gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return out, nil
}

// gunzipPrefix decompresses as much of a possibly truncated gzip member as it can,
// up to 4 KiB.
func gunzipPrefix(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, 4096))
	if len(out) > 0 {
		return out, nil
	}
	return nil, err
}
