package archive

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec is a compression format of an archive
type Codec string

const (
	None   Codec = "none"
	Gzip   Codec = "gzip"
	Zstd   Codec = "zstd"
	Brotli Codec = "br"
	LZ4    Codec = "lz4"
	Snappy Codec = "snappy"
)

var codecs = []Codec{None, Gzip, Zstd, Brotli, LZ4, Snappy}

// ParseCodec parses codec name. Empty string is Zstd.
func ParseCodec(s string) (Codec, error) {
	if s == "" {
		return Zstd, nil
	}
	for _, c := range codecs {
		if string(c) == s {
			return c, nil
		}
	}
	return None, fmt.Errorf("unknown codec '%s'", s)
}

// Ext returns file extension for archives compressed with c
func (c Codec) Ext() string {
	switch c {
	case Gzip:
		return ".gz"
	case Zstd:
		return ".zst"
	case Brotli:
		return ".br"
	case LZ4:
		return ".lz4"
	case Snappy:
		return ".sz"
	}
	return ""
}

// codecFromName detects codec from file extension
func codecFromName(name string) Codec {
	for _, c := range codecs {
		if ext := c.Ext(); ext != "" && strings.HasSuffix(name, ext) {
			return c
		}
	}
	return None
}

func getErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func compressWithWriter(d []byte, newWriter func(io.Writer) (io.WriteCloser, error)) ([]byte, error) {
	var dst bytes.Buffer
	w, err := newWriter(&dst)
	if err != nil {
		return nil, err
	}
	_, err = w.Write(d)
	err2 := w.Close()
	if err = getErr(err, err2); err != nil {
		return nil, err
	}
	return dst.Bytes(), nil
}

func Compress(c Codec, d []byte) ([]byte, error) {
	switch c {
	case None:
		return d, nil
	case Gzip:
		return compressWithWriter(d, func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriterLevel(w, gzip.BestCompression)
		})
	case Zstd:
		// zstd.SpeedBestCompression is much slower and not much better
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(d, nil), nil
	case Brotli:
		return compressWithWriter(d, func(w io.Writer) (io.WriteCloser, error) {
			return brotli.NewWriterLevel(w, brotli.DefaultCompression), nil
		})
	case LZ4:
		return compressWithWriter(d, func(w io.Writer) (io.WriteCloser, error) {
			zw := lz4.NewWriter(w)
			if err := zw.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
				return nil, err
			}
			return zw, nil
		})
	case Snappy:
		return snappy.Encode(nil, d), nil
	}
	return nil, fmt.Errorf("unknown codec '%s'", c)
}

func Decompress(c Codec, d []byte) ([]byte, error) {
	switch c {
	case None:
		return d, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(d))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case Zstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(d, nil)
	case Brotli:
		return io.ReadAll(brotli.NewReader(bytes.NewReader(d)))
	case LZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(d)))
	case Snappy:
		return snappy.Decode(nil, d)
	}
	return nil, fmt.Errorf("unknown codec '%s'", c)
}
