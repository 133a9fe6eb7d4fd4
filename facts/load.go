package facts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/meigma/trustpolicy/datalog"
)

// Format is a snapshot encoding.
type Format uint8

// Snapshot encodings.
const (
	FormatJSON Format = iota + 1
	FormatYAML
)

// snapshotSection is the relation name used for whole-document decoding
// failures.
const snapshotSection = "snapshot"

// zstdMagic is the frame header of zstd-compressed data.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// FormatOf guesses the encoding of path from its extension, ignoring a
// trailing ".zst".
func FormatOf(path string) Format {
	ext := strings.ToLower(filepath.Ext(strings.TrimSuffix(path, ".zst")))
	if ext == ".yaml" || ext == ".yml" {
		return FormatYAML
	}
	return FormatJSON
}

// Load reads a snapshot file. Compressed files are detected by content.
func Load(path string) (*Snapshot, error) {
	//nolint:gosec // path is intentionally user-provided
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f, FormatOf(path))
}

// Decode reads a snapshot in the given format, transparently decompressing
// zstd input. Malformed documents yield a *datalog.SchemaError.
func Decode(r io.Reader, format Format) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(data, zstdMagic) {
		if data, err = decompress(data); err != nil {
			return nil, schemaErr(snapshotSection, "decompress: %v", err)
		}
	}

	snap := &Snapshot{}
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(snap); err != nil && !errors.Is(err, io.EOF) {
			return nil, decodeErr(err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		dec.DisallowUnknownFields()
		if err := dec.Decode(snap); err != nil {
			return nil, decodeErr(err)
		}
	}
	return snap, nil
}

// decodeErr names the snapshot section a decoding error occurred in, when it
// can tell.
func decodeErr(err error) error {
	var serr *datalog.SchemaError
	if errors.As(err, &serr) {
		return err
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		section, _, _ := strings.Cut(typeErr.Field, ".")
		return schemaErr(section, "%v", err)
	}
	return schemaErr(snapshotSection, "%v", err)
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

// Encode writes snap in the given format, zstd-compressing the output if
// compress is set.
func Encode(w io.Writer, snap *Snapshot, format Format, compress bool) error {
	var buf bytes.Buffer
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("facts: encode snapshot: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("facts: encode snapshot: %w", err)
		}
	default:
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("facts: encode snapshot: %w", err)
		}
	}

	data := buf.Bytes()
	if compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return err
		}
		data = enc.EncodeAll(data, nil)
		if err := enc.Close(); err != nil {
			return err
		}
	}
	_, err := w.Write(data)
	return err
}
