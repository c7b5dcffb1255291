package seqmodel

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// Checkpoint file layout, little-endian:
//   - 4 bytes magic "IGSM"
//   - uint32 format version
//   - uint32 layers, hidden size, mixtures
//   - uint32 parameter tensor count
//   - per tensor: uint32 rows, uint32 cols, rows*cols float64 values
const checkpointVersion uint32 = 1

var (
	checkpointMagic = [4]byte{'I', 'G', 'S', 'M'}

	ErrBadCheckpoint     = errors.New("not a sequence model checkpoint")
	ErrTopologyMismatch  = errors.New("checkpoint topology does not match model")
	ErrCheckpointVersion = errors.New("unsupported checkpoint version")
)

func (m *MDNRNN) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := m.writeTo(w); err != nil {
		f.Close()
		return fmt.Errorf("write checkpoint %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (m *MDNRNN) writeTo(w io.Writer) error {
	if _, err := w.Write(checkpointMagic[:]); err != nil {
		return err
	}
	params := m.Params()
	header := []uint32{
		checkpointVersion,
		uint32(m.cfg.NumLayers),
		uint32(m.cfg.HiddenSize),
		uint32(m.cfg.NumMixtures),
		uint32(len(params)),
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	buf := make([]byte, 8)
	for _, p := range params {
		if err := binary.Write(w, binary.LittleEndian, []uint32{uint32(p.Rows), uint32(p.Cols)}); err != nil {
			return err
		}
		for _, v := range p.Value {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load replaces the model parameters with the ones stored at path. The
// stored topology must match the model's configuration.
func (m *MDNRNN) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := m.readFrom(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	return nil
}

func (m *MDNRNN) readFrom(r io.Reader) error {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return err
	}
	if magic != checkpointMagic {
		return ErrBadCheckpoint
	}
	header := make([]uint32, 5)
	if err := binary.Read(r, binary.LittleEndian, header); err != nil {
		return err
	}
	if header[0] != checkpointVersion {
		return fmt.Errorf("%w: %d", ErrCheckpointVersion, header[0])
	}
	params := m.Params()
	if int(header[1]) != m.cfg.NumLayers || int(header[2]) != m.cfg.HiddenSize ||
		int(header[3]) != m.cfg.NumMixtures || int(header[4]) != len(params) {
		return fmt.Errorf("%w: layers=%d hidden=%d mixtures=%d", ErrTopologyMismatch, header[1], header[2], header[3])
	}

	values := make([][]float64, len(params))
	buf := make([]byte, 8)
	for i, p := range params {
		dims := make([]uint32, 2)
		if err := binary.Read(r, binary.LittleEndian, dims); err != nil {
			return err
		}
		if int(dims[0]) != p.Rows || int(dims[1]) != p.Cols {
			return fmt.Errorf("%w: %s is %dx%d, stored %dx%d", ErrTopologyMismatch, p.Name, p.Rows, p.Cols, dims[0], dims[1])
		}
		values[i] = make([]float64, len(p.Value))
		for j := range values[i] {
			if _, err := io.ReadFull(r, buf); err != nil {
				return err
			}
			values[i][j] = math.Float64frombits(binary.LittleEndian.Uint64(buf))
		}
	}
	for i, p := range params {
		copy(p.Value, values[i])
	}
	return nil
}
