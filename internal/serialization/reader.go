package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/brainvision/onnxconv/internal/tensor"
)

// BornReader reads models from .born format.
type BornReader struct {
	file       *os.File
	header     Header
	flags      uint32
	version    uint32
	dataOffset int64    // Offset where tensor data starts
	dataSize   int64    // Size of the data section
	checksum   [32]byte // SHA-256 checksum (v2 only)
	opts       ReaderOptions
	closed     bool
}

// ReaderOptions configures the behavior of BornReader.
type ReaderOptions struct {
	SkipChecksumValidation bool            // Skip checksum validation (faster but less safe)
	ValidationLevel        ValidationLevel // Validation strictness level
}

// NewBornReader creates a new .born file reader with default options (strict validation).
func NewBornReader(path string) (*BornReader, error) {
	return NewBornReaderWithOptions(path, ReaderOptions{
		ValidationLevel: ValidationStrict,
	})
}

// NewBornReaderWithOptions creates a new .born file reader with custom options.
func NewBornReaderWithOptions(path string, opts ReaderOptions) (*BornReader, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	reader := &BornReader{
		file: file,
		opts: opts,
	}

	if err := reader.parseHeader(); err != nil {
		_ = file.Close() // Best effort close on error
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	fileInfo, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if reader.version == FormatVersion {
		reader.dataSize = fileInfo.Size() - reader.dataOffset
	} else if reader.dataOffset+reader.dataSize > fileInfo.Size() {
		_ = file.Close()
		return nil, fmt.Errorf("%w: data section truncated", ErrOutOfBounds)
	}

	if err := ValidateHeader(&reader.header, reader.dataSize, opts.ValidationLevel); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if reader.version == FormatVersionV2 && !opts.SkipChecksumValidation {
		if err := reader.verifyChecksum(); err != nil {
			_ = file.Close()
			return nil, err
		}
	}

	return reader, nil
}

// parseHeader reads and parses the .born file header.
func (r *BornReader) parseHeader() error {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r.file, magic); err != nil {
		return fmt.Errorf("failed to read magic bytes: %w", err)
	}
	if string(magic) != MagicBytes {
		return ErrInvalidMagic
	}

	if err := binary.Read(r.file, binary.LittleEndian, &r.version); err != nil {
		return fmt.Errorf("failed to read version: %w", err)
	}

	switch r.version {
	case FormatVersion:
		return r.parseHeaderV1()
	case FormatVersionV2:
		return r.parseHeaderV2()
	default:
		return fmt.Errorf("%w: got %d, expected %d or %d", ErrUnsupportedVersion, r.version, FormatVersion, FormatVersionV2)
	}
}

// parseHeaderV1 parses v1 format header (no checksum).
func (r *BornReader) parseHeaderV1() error {
	if err := binary.Read(r.file, binary.LittleEndian, &r.flags); err != nil {
		return fmt.Errorf("failed to read flags: %w", err)
	}

	var headerSize uint64
	if err := binary.Read(r.file, binary.LittleEndian, &headerSize); err != nil {
		return fmt.Errorf("failed to read header size: %w", err)
	}

	if err := r.readHeaderJSON(headerSize); err != nil {
		return err
	}

	//nolint:gosec // G115: headerSize bounded by MaxHeaderSize.
	r.dataOffset = alignedDataOffset(FixedHeaderSizeV1, int64(headerSize))
	return nil
}

// parseHeaderV2 parses v2 format header (with checksum).
func (r *BornReader) parseHeaderV2() error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}

	fixedHeader := make([]byte, FixedHeaderSizeV2)
	if _, err := io.ReadFull(r.file, fixedHeader); err != nil {
		return fmt.Errorf("failed to read fixed header: %w", err)
	}

	r.flags = binary.LittleEndian.Uint32(fixedHeader[8:12])
	headerSize := binary.LittleEndian.Uint64(fixedHeader[16:24])
	dataSize := binary.LittleEndian.Uint64(fixedHeader[24:32])
	copy(r.checksum[:], fixedHeader[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize])

	if err := r.readHeaderJSON(headerSize); err != nil {
		return err
	}

	//nolint:gosec // G115: headerSize bounded by MaxHeaderSize.
	r.dataOffset = alignedDataOffset(FixedHeaderSizeV2, int64(headerSize))
	r.dataSize = int64(dataSize) //nolint:gosec // G115: checked against file size by the caller.
	if r.dataSize < 0 {
		return ErrNegativeOffset
	}
	return nil
}

func (r *BornReader) readHeaderJSON(headerSize uint64) error {
	if headerSize > MaxHeaderSize {
		return ErrHeaderTooLarge
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r.file, headerBytes); err != nil {
		return fmt.Errorf("failed to read header JSON: %w", err)
	}

	if err := json.Unmarshal(headerBytes, &r.header); err != nil {
		return fmt.Errorf("failed to parse header JSON: %w", err)
	}
	return nil
}

// verifyChecksum hashes the data section and compares it with the fixed header.
func (r *BornReader) verifyChecksum() error {
	if _, err := r.file.Seek(r.dataOffset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to tensor data: %w", err)
	}
	computed, err := ComputeChecksumReader(io.LimitReader(r.file, r.dataSize))
	if err != nil {
		return fmt.Errorf("failed to read tensor data for checksum: %w", err)
	}
	return ValidateChecksum(computed, r.checksum)
}

// Version returns the format version of the file.
func (r *BornReader) Version() uint32 {
	return r.version
}

// Header returns the file header.
func (r *BornReader) Header() Header {
	return r.header
}

// Metadata returns the metadata map from the header.
func (r *BornReader) Metadata() map[string]string {
	return r.header.Metadata
}

// TensorNames returns a list of all tensor names in the file.
func (r *BornReader) TensorNames() []string {
	names := make([]string, len(r.header.Tensors))
	for i, meta := range r.header.Tensors {
		names[i] = meta.Name
	}
	return names
}

// TensorInfo returns information about a specific tensor.
func (r *BornReader) TensorInfo(name string) (*TensorMeta, error) {
	for i := range r.header.Tensors {
		if r.header.Tensors[i].Name == name {
			meta := r.header.Tensors[i]
			return &meta, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
}

// ReadTensorData reads raw tensor data for a given tensor name.
func (r *BornReader) ReadTensorData(name string) ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}

	meta, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	if _, err := r.file.Seek(r.dataOffset+meta.Offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to tensor data: %w", err)
	}

	data := make([]byte, meta.Size)
	if _, err := io.ReadFull(r.file, data); err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}

	return data, nil
}

// LoadTensor loads a single tensor from the file.
func (r *BornReader) LoadTensor(name string) (*tensor.RawTensor, error) {
	meta, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	data, err := r.ReadTensorData(name)
	if err != nil {
		return nil, err
	}

	return tensorFromMeta(meta, data)
}

// ReadStateDict reads all tensors into a state dictionary.
func (r *BornReader) ReadStateDict() (map[string]*tensor.RawTensor, error) {
	if r.closed {
		return nil, ErrClosed
	}

	stateDict := make(map[string]*tensor.RawTensor, len(r.header.Tensors))
	for _, meta := range r.header.Tensors {
		raw, err := r.LoadTensor(meta.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to load tensor %s: %w", meta.Name, err)
		}
		stateDict[meta.Name] = raw
	}

	return stateDict, nil
}

// Close closes the reader and the underlying file.
func (r *BornReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}
