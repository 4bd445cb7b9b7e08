package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/inferloop/tsforecast/internal/forecast"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// File is the on-disk tensor bundle. x, z and v are the training set; the
// enc/dec tensors describe a rollout and, when dec_z is present, its truth.
type File struct {
	X [][][]float64 `json:"x"`
	Z [][]float64   `json:"z"`
	V [][]float64   `json:"v"`

	EncX [][][]float64 `json:"enc_x,omitempty"`
	EncZ [][]float64   `json:"enc_z,omitempty"`
	DecX [][][]float64 `json:"dec_x,omitempty"`
	DecZ [][]float64   `json:"dec_z,omitempty"`
	DecV [][]float64   `json:"dec_v,omitempty"`

	// Series keeps the raw histories the tensors were built from, if any
	Series []Series `json:"series,omitempty"`
}

// Training returns the training tensors as a Dataset
func (f *File) Training() (*Dataset, error) {
	return New(f.X, f.Z, f.V)
}

// HasRollout reports whether the file carries rollout tensors
func (f *File) HasRollout() bool {
	return len(f.EncX) > 0 && len(f.DecX) > 0
}

// Rollout returns the rollout input described by the enc/dec tensors
func (f *File) Rollout() (*forecast.RolloutInput, error) {
	if !f.HasRollout() {
		return nil, errors.NewValidationError(errors.CodeEmptyDataset, "dataset file has no rollout tensors")
	}
	return &forecast.RolloutInput{EncX: f.EncX, EncZ: f.EncZ, DecX: f.DecX, Scale: f.DecV}, nil
}

// SetRollout stores a rollout input and its optional truth
func (f *File) SetRollout(in *forecast.RolloutInput, truth [][]float64) {
	f.EncX, f.EncZ, f.DecX, f.DecV = in.EncX, in.EncZ, in.DecX, in.Scale
	f.DecZ = truth
}

// Write encodes f as JSON, gzip-compressed when gz is set
func (f *File) Write(w io.Writer, gz bool) error {
	if !gz {
		return json.NewEncoder(w).Encode(f)
	}
	zw := gzip.NewWriter(w)
	if err := json.NewEncoder(zw).Encode(f); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// Read decodes a File written by Write. Gzip input is detected from its magic bytes.
func Read(r io.Reader) (*File, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	var src io.Reader = br
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip dataset: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	var f File
	if err := json.NewDecoder(src).Decode(&f); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "failed to decode dataset")
	}
	return &f, nil
}

// LoadFile reads a dataset file from disk
func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset %s: %w", path, err)
	}
	defer fh.Close()
	return Read(fh)
}

// SaveFile writes a dataset file to disk, compressing when path ends in .gz
func SaveFile(path string, f *File) error {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dataset %s: %w", path, err)
	}
	if err := f.Write(fh, strings.HasSuffix(path, ".gz")); err != nil {
		fh.Close()
		return fmt.Errorf("failed to write dataset %s: %w", path, err)
	}
	return fh.Close()
}
