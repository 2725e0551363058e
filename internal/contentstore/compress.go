package contentstore

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/arechgie/webarchive/internal/archive"
)

// compressPayload picks a compression algorithm for the payload and
// returns the encoded bytes with the chosen tag. Tiny payloads and
// already-compressed formats are stored raw; text-like payloads use
// gzip, everything else deflate. When the encoded form is not smaller
// the raw bytes win.
func compressPayload(data []byte, minBytes int) ([]byte, archive.Compression, error) {
	if len(data) < minBytes {
		return data, archive.CompressionNone, nil
	}

	tag := classifyPayload(data)
	if tag == archive.CompressionNone {
		return data, archive.CompressionNone, nil
	}

	encoded, err := encode(data, tag)
	if err != nil {
		return nil, archive.CompressionNone, err
	}
	if len(encoded) >= len(data) {
		return data, archive.CompressionNone, nil
	}
	return encoded, tag, nil
}

func classifyPayload(data []byte) archive.Compression {
	contentType := http.DetectContentType(data)
	switch {
	case strings.HasPrefix(contentType, "text/"),
		strings.Contains(contentType, "json"),
		strings.Contains(contentType, "xml"),
		strings.Contains(contentType, "javascript"):
		return archive.CompressionGzip
	case strings.HasPrefix(contentType, "image/"),
		strings.HasPrefix(contentType, "video/"),
		strings.HasPrefix(contentType, "audio/"),
		strings.Contains(contentType, "zip"),
		strings.Contains(contentType, "gzip"):
		// Recompressing these wastes CPU for no gain.
		return archive.CompressionNone
	default:
		return archive.CompressionDeflate
	}
}

func encode(data []byte, tag archive.Compression) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch tag {
	case archive.CompressionGzip:
		w = gzip.NewWriter(&buf)
	case archive.CompressionDeflate:
		w, err = flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("init deflate writer: %w", err)
		}
	case archive.CompressionNone:
		return data, nil
	default:
		return nil, fmt.Errorf("unknown compression tag %q", tag)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finish compression: %w", err)
	}
	return buf.Bytes(), nil
}

// decodePayload reverses compressPayload using the recorded tag.
func decodePayload(data []byte, tag archive.Compression) ([]byte, error) {
	switch tag {
	case archive.CompressionNone:
		return data, nil
	case archive.CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("init gzip reader: %w", err)
		}
		defer func() { _ = r.Close() }()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("decompress gzip: %w", err)
		}
		return out, nil
	case archive.CompressionDeflate:
		r := flate.NewReader(bytes.NewReader(data))
		defer func() { _ = r.Close() }()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("decompress deflate: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compression tag %q", tag)
	}
}
