package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/brainvision/onnxconv/internal/tensor"
)

// Producer is recorded in every header this package writes.
const Producer = "onnxconv"

// BornWriter writes models in .born format.
type BornWriter struct {
	file   *os.File
	closed bool
}

// NewBornWriter creates a new .born file writer.
func NewBornWriter(path string) (*BornWriter, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	return &BornWriter{
		file:   file,
		closed: false,
	}, nil
}

// WriteFile writes stateDict with header to path using format v2.
func WriteFile(path string, stateDict map[string]*tensor.RawTensor, header Header) error {
	writer, err := NewBornWriter(path)
	if err != nil {
		return err
	}

	if err := writer.WriteStateDict(stateDict, header); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// WriteStateDict writes a state dictionary with the given header using format v2.
//
// Tensors are laid out in name order so identical inputs produce identical files
// apart from the header timestamp.
func (w *BornWriter) WriteStateDict(stateDict map[string]*tensor.RawTensor, header Header) error {
	if w.closed {
		return ErrClosed
	}
	return writeV2(w.file, stateDict, header)
}

// Close closes the writer and the underlying file.
func (w *BornWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// WriteTo writes the state dictionary in format v2 to an io.Writer.
func WriteTo(writer io.Writer, stateDict map[string]*tensor.RawTensor, header Header) error {
	return writeV2(writer, stateDict, header)
}

// writeV2 lays out:
//
//	0x00 magic | 0x04 version | 0x08 flags | 0x0C reserved | 0x10 header size |
//	0x18 data size | 0x20 SHA-256 of data | 0x40 JSON header | padding | data
func writeV2(out io.Writer, stateDict map[string]*tensor.RawTensor, header Header) error {
	header.FormatVersion = FormatVersionV2
	if header.Producer == "" {
		header.Producer = Producer
	}
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}
	if header.Metadata == nil {
		header.Metadata = make(map[string]string)
	}

	names := make([]string, 0, len(stateDict))
	for name := range stateDict {
		names = append(names, name)
	}
	sort.Strings(names)

	var data bytes.Buffer
	header.Tensors = make([]TensorMeta, 0, len(names))
	for _, name := range names {
		raw := stateDict[name]
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  dtypeToString(raw.DType()),
			Shape:  []int(raw.Shape()),
			Offset: int64(data.Len()),
			Size:   int64(raw.ByteSize()),
		})
		data.Write(raw.Data())
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if len(headerJSON) > MaxHeaderSize {
		return ErrHeaderTooLarge
	}

	checksum := ComputeChecksum(data.Bytes())

	fixed := make([]byte, FixedHeaderSizeV2)
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], uint32(FormatVersionV2))
	binary.LittleEndian.PutUint32(fixed[8:12], flagsFor(&header))
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(data.Len()))
	copy(fixed[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize], checksum[:])

	if _, err := out.Write(fixed); err != nil {
		return fmt.Errorf("failed to write fixed header: %w", err)
	}
	if _, err := out.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header JSON: %w", err)
	}

	start := alignedDataOffset(FixedHeaderSizeV2, int64(len(headerJSON)))
	if padding := start - FixedHeaderSizeV2 - int64(len(headerJSON)); padding > 0 {
		if _, err := out.Write(make([]byte, padding)); err != nil {
			return fmt.Errorf("failed to write padding: %w", err)
		}
	}

	if _, err := out.Write(data.Bytes()); err != nil {
		return fmt.Errorf("failed to write tensor data: %w", err)
	}

	return nil
}
