package backup

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
)

// Export file versions.
const (
	FormatV1 = 1 // plain JSON
	FormatV2 = 2 // JSON header line followed by a gzip payload
)

// SchemaVersion identifies the draft row layout inside an export.
const SchemaVersion = "drafts-1"

// Header is the first line of a v2 export.
type Header struct {
	Version      int               `json:"version"`
	SessionCount int               `json:"sessionCount"`
	DraftCount   int               `json:"draftCount"`
	Compressed   bool              `json:"compressed"`
	Checksum     string            `json:"checksum"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// WriteOptions adds metadata to a v2 export.
type WriteOptions struct {
	AppVersion string
	Metadata   map[string]string
}

// WriteV2 writes f as a header line and a gzip payload. The header
// checksum is the sha256 of the compressed payload.
func WriteV2(path string, f *Format, opts *WriteOptions) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}

	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	if _, err := zw.Write(payload); err != nil {
		return fmt.Errorf("compress export: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress export: %w", err)
	}

	sum := sha256.Sum256(compressed.Bytes())
	header := Header{
		Version:      FormatV2,
		SessionCount: len(f.Sessions),
		DraftCount:   f.DraftCount(),
		Compressed:   true,
		Checksum:     hex.EncodeToString(sum[:]),
		Metadata:     metadata(opts),
	}
	line, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	var out bytes.Buffer
	out.Write(line)
	out.WriteByte('\n')
	out.Write(compressed.Bytes())
	if err := os.WriteFile(path, out.Bytes(), 0600); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

func metadata(opts *WriteOptions) map[string]string {
	md := map[string]string{
		"platform": runtime.GOOS + "/" + runtime.GOARCH,
		"schema":   SchemaVersion,
	}
	if host, err := os.Hostname(); err == nil {
		md["hostname"] = host
	}
	if opts == nil {
		return md
	}
	if opts.AppVersion != "" {
		md["refinery_version"] = opts.AppVersion
	}
	for k, v := range opts.Metadata {
		md[k] = v
	}
	return md
}

// DetectFormat reports whether path holds a v1 or v2 export.
func DetectFormat(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open export: %w", err)
	}
	defer file.Close()

	line, err := bufio.NewReader(file).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("read export: %w", err)
	}
	var h Header
	if json.Unmarshal(line, &h) == nil && h.Version == FormatV2 && h.Compressed {
		return FormatV2, nil
	}
	return FormatV1, nil
}

// ReadV2Header returns the header of a v2 export without decompressing it.
func ReadV2Header(path string) (*Header, error) {
	h, _, err := splitV2(path)
	return h, err
}

// VerifyChecksum checks the payload of a v2 export against its header.
func VerifyChecksum(path string) error {
	h, payload, err := splitV2(path)
	if err != nil {
		return err
	}
	return verify(h, payload)
}

// ReadV2 reads and verifies a v2 export.
func ReadV2(path string) (*Format, error) {
	h, payload, err := splitV2(path)
	if err != nil {
		return nil, err
	}
	if err := verify(h, payload); err != nil {
		return nil, err
	}

	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decompress export: %w", err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress export: %w", err)
	}

	var f Format
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse export: %w", err)
	}
	return &f, nil
}

func splitV2(path string) (*Header, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read export: %w", err)
	}
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return nil, nil, errors.New("export has no v2 header")
	}
	var h Header
	if err := json.Unmarshal(data[:idx], &h); err != nil {
		return nil, nil, fmt.Errorf("parse export header: %w", err)
	}
	if h.Version != FormatV2 {
		return nil, nil, fmt.Errorf("export version %d is not v2", h.Version)
	}
	return &h, data[idx+1:], nil
}

func verify(h *Header, payload []byte) error {
	sum := sha256.Sum256(payload)
	if got := hex.EncodeToString(sum[:]); got != h.Checksum {
		return fmt.Errorf("export checksum mismatch: header %s, payload %s", h.Checksum, got)
	}
	return nil
}
