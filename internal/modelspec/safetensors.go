package modelspec

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
)

// TensorInfo is one entry from a safetensors header: dtype, shape, and the
// byte range of its data. Only the header is read; weight data stays on
// disk, which keeps inspection cheap even for multi-gigabyte files.
type TensorInfo struct {
	DType string
	Shape []int
}

// Numel returns the tensor's element count.
func (t TensorInfo) Numel() int64 {
	n := int64(1)
	for _, d := range t.Shape {
		n *= int64(d)
	}
	return n
}

type safetensorsHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

const maxHeaderBytes = 100 << 20

// ReadHeader parses the header of a safetensors file and returns its
// tensor inventory keyed by tensor name.
func ReadHeader(path string) (map[string]TensorInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var lenBuf [8]byte
	if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("modelspec: read header length of %s: %w", path, err)
	}
	headerLen := binary.LittleEndian.Uint64(lenBuf[:])
	if headerLen == 0 || headerLen > maxHeaderBytes {
		return nil, fmt.Errorf("modelspec: implausible header length %d in %s", headerLen, path)
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return nil, fmt.Errorf("modelspec: read header of %s: %w", path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("modelspec: parse header of %s: %w", path, err)
	}
	delete(raw, "__metadata__")

	tensors := make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		var h safetensorsHeader
		if err := json.Unmarshal(msg, &h); err != nil {
			return nil, fmt.Errorf("modelspec: tensor %s in %s: %w", name, path, err)
		}
		if len(h.DataOffsets) != 2 || h.DataOffsets[1] < h.DataOffsets[0] {
			return nil, fmt.Errorf("modelspec: tensor %s in %s: invalid data_offsets", name, path)
		}
		tensors[name] = TensorInfo{DType: h.DType, Shape: h.Shape}
	}
	return tensors, nil
}
