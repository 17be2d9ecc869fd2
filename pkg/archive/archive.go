// Package archive packs decoded snapshot hours into compact blobs for
// SQLite storage: msgpack encoding behind DEFLATE compression. A full
// hour of ~1000 balloons lands around 10 KB instead of ~60 KB of JSON.
package archive

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"stratoscope/pkg/model"
)

var (
	// Pool for flate writers to reuse compressor state
	flateWriterPool = sync.Pool{
		New: func() interface{} {
			w, _ := flate.NewWriter(io.Discard, flate.DefaultCompression)
			return w
		},
	}
	// Pool for generic byte buffers
	bufferPool = sync.Pool{
		New: func() interface{} {
			return new(bytes.Buffer)
		},
	}
)

// Encode packs the samples of one hour into a compressed blob.
func Encode(samples map[int]model.Sample) ([]byte, error) {
	raw, err := msgpack.Marshal(samples)
	if err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}

	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	w := flateWriterPool.Get().(*flate.Writer)
	defer flateWriterPool.Put(w)
	w.Reset(buf)

	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}

	// Must copy because buf is returned to pool
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Decode unpacks a blob produced by Encode.
func Decode(blob []byte) (map[int]model.Sample, error) {
	r := flate.NewReader(bytes.NewReader(blob))
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	var samples map[int]model.Sample
	if err := msgpack.Unmarshal(raw, &samples); err != nil {
		return nil, fmt.Errorf("msgpack decode: %w", err)
	}
	return samples, nil
}
