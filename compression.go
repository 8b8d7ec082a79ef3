// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zippkg

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

// CompressionMethod represents the compression algorithm used for a file in the ZIP archive
type CompressionMethod uint16

// Supported compression methods according to ZIP specification
const (
	Stored    CompressionMethod = 0  // No compression - file stored as-is
	Deflated  CompressionMethod = 8  // DEFLATE compression (most common)
	Deflate64 CompressionMethod = 9  // DEFLATE64(tm) enhanced compression
	BZIP2     CompressionMethod = 12 // BZIP2 compression (more efficient but slower compression)
	LZMA      CompressionMethod = 14 // LZMA compression (high compression ratio)
	ZStandard CompressionMethod = 93 // Zstandard compression (fastest decompression)

	// aesMarker replaces the real method in headers of AES-encrypted entries.
	aesMarker CompressionMethod = 99
)

func (m CompressionMethod) String() string {
	switch m {
	case Stored:
		return "stored"
	case Deflated:
		return "deflate"
	case Deflate64:
		return "deflate64"
	case BZIP2:
		return "bzip2"
	case LZMA:
		return "lzma"
	case ZStandard:
		return "zstd"
	case aesMarker:
		return "aes"
	}
	return fmt.Sprintf("method(%d)", uint16(m))
}

// Compression levels for DEFLATE algorithm
const (
	DeflateNormal    = 6 // Default compression level (good balance between speed and ratio)
	DeflateMaximum   = 9 // Maximum compression (best ratio, slowest speed)
	DeflateFast      = 3 // Fast compression (lower ratio, faster speed)
	DeflateSuperFast = 1 // Super fast compression (lowest ratio, fastest speed)
)

// Codec compresses and decompresses whole entry payloads.
//
// Decompress stops after limit+1 output bytes so a caller holding the
// expected size can detect overruns without inflating the rest.
// A negative limit means no bound.
type Codec interface {
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte, limit int64) ([]byte, error)
}

// limitReader caps r at limit+1 bytes when limit is non-negative.
func limitReader(r io.Reader, limit int64) io.Reader {
	if limit < 0 {
		return r
	}
	return io.LimitReader(r, limit+1)
}

// codecFor returns the strategy registered for method.
// level 0 selects the library default.
func codecFor(method CompressionMethod, level int) (Codec, error) {
	switch method {
	case Stored:
		return storedCodec{}, nil
	case Deflated:
		return deflateCodecFor(level), nil
	case ZStandard:
		return zstdCodec{level: level}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupportedMethod, method)
}

// storedCodec implements no compression (STORE method)
type storedCodec struct{}

func (storedCodec) Compress(src []byte) ([]byte, error) { return bytes.Clone(src), nil }

func (storedCodec) Decompress(src []byte, limit int64) ([]byte, error) {
	if limit >= 0 && int64(len(src)) > limit+1 {
		src = src[:limit+1]
	}
	return bytes.Clone(src), nil
}

// deflateCodec implements raw DEFLATE with pooled writers and readers.
type deflateCodec struct {
	level   int
	writers sync.Pool
}

var (
	deflateCodecs  sync.Map // level -> *deflateCodec
	deflateReaders sync.Pool
)

func deflateCodecFor(level int) *deflateCodec {
	if level == 0 {
		level = flate.DefaultCompression
	}
	if c, ok := deflateCodecs.Load(level); ok {
		return c.(*deflateCodec)
	}
	c, _ := deflateCodecs.LoadOrStore(level, &deflateCodec{level: level})
	return c.(*deflateCodec)
}

func (d *deflateCodec) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, ok := d.writers.Get().(*flate.Writer)
	if ok {
		w.Reset(&buf)
	} else {
		var err error
		if w, err = flate.NewWriter(&buf, d.level); err != nil {
			return nil, fmt.Errorf("%w: deflate level %d: %v", ErrConfig, d.level, err)
		}
	}
	defer d.writers.Put(w)

	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *deflateCodec) Decompress(src []byte, limit int64) ([]byte, error) {
	r := bytes.NewReader(src)

	fr, ok := deflateReaders.Get().(io.ReadCloser)
	if ok {
		if err := fr.(flate.Resetter).Reset(r, nil); err != nil {
			return nil, err
		}
	} else {
		fr = flate.NewReader(r)
	}
	defer deflateReaders.Put(fr)

	out, err := io.ReadAll(limitReader(fr, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: deflate: %v", ErrFormat, err)
	}
	return out, nil
}

// zstdCodec implements Zstandard (method 93) through shared stateless encoders
// and pooled streaming decoders.
type zstdCodec struct {
	level int
}

var (
	zstdDecoders sync.Pool
	zstdEncoders sync.Map // zstd.EncoderLevel -> *zstd.Encoder
)

// zstdDecoderFor returns a decoder reading from r and the func that hands it back.
func zstdDecoderFor(r io.Reader) (*zstd.Decoder, func(), error) {
	if dec, ok := zstdDecoders.Get().(*zstd.Decoder); ok {
		if err := dec.Reset(r); err == nil {
			return dec, func() {
				_ = dec.Reset(nil)
				zstdDecoders.Put(dec)
			}, nil
		}
		dec.Close()
	}

	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, nil, err
	}
	return dec, func() {
		_ = dec.Reset(nil)
		zstdDecoders.Put(dec)
	}, nil
}

func zstdEncoderFor(level int) (*zstd.Encoder, error) {
	lvl := zstd.SpeedDefault
	if level > 0 {
		lvl = zstd.EncoderLevelFromZstd(level)
	}
	if enc, ok := zstdEncoders.Load(lvl); ok {
		return enc.(*zstd.Encoder), nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(lvl), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	actual, _ := zstdEncoders.LoadOrStore(lvl, enc)
	return actual.(*zstd.Encoder), nil
}

func (z zstdCodec) Compress(src []byte) ([]byte, error) {
	enc, err := zstdEncoderFor(z.level)
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(src, nil), nil
}

func (z zstdCodec) Decompress(src []byte, limit int64) ([]byte, error) {
	dec, release, err := zstdDecoderFor(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrFormat, err)
	}
	defer release()

	out, err := io.ReadAll(limitReader(dec, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrFormat, err)
	}
	return out, nil
}
