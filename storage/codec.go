package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

// byteOrder matches the teacher's loopdb/store.go convention.
var byteOrder = binary.BigEndian

// outpointKey encodes a wire.OutPoint as its 36-byte bolt key: the
// teacher indexes swaps by swap hash the same fixed-width way.
func outpointKey(op wire.OutPoint) []byte {
	key := make([]byte, 36)
	copy(key[:32], op.Hash[:])
	byteOrder.PutUint32(key[32:], op.Index)
	return key
}

type encoder struct {
	buf *bytes.Buffer
	err error
}

func newEncoder() *encoder {
	return &encoder{buf: new(bytes.Buffer)}
}

func (e *encoder) bytes() ([]byte, error) {
	return e.buf.Bytes(), e.err
}

func (e *encoder) writeUint32(v uint32) {
	if e.err != nil {
		return
	}
	var b [4]byte
	byteOrder.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) writeInt64(v int64) {
	if e.err != nil {
		return
	}
	var b [8]byte
	byteOrder.PutUint64(b[:], uint64(v))
	e.buf.Write(b[:])
}

func (e *encoder) writeVarBytes(b []byte) {
	if e.err != nil {
		return
	}
	e.writeUint32(uint32(len(b)))
	e.buf.Write(b)
}

func (e *encoder) writeString(s string) { e.writeVarBytes([]byte(s)) }

func (e *encoder) writeFixed(b []byte) {
	if e.err != nil {
		return
	}
	e.buf.Write(b)
}

func (e *encoder) writeFloat64(v float64) {
	e.writeInt64(int64(math.Float64bits(v)))
}

func (e *encoder) writeOutpoint(op wire.OutPoint) {
	e.writeFixed(op.Hash[:])
	e.writeUint32(op.Index)
}

func (e *encoder) writePubKey(pub *btcec.PublicKey) {
	if pub == nil {
		e.writeVarBytes(nil)
		return
	}
	e.writeVarBytes(pub.SerializeCompressed())
}

type decoder struct {
	r   *bytes.Reader
	err error
}

func newDecoder(b []byte) *decoder {
	return &decoder{r: bytes.NewReader(b)}
}

func (d *decoder) finish() error { return d.err }

func (d *decoder) readUint32() uint32 {
	if d.err != nil {
		return 0
	}
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		d.err = fmt.Errorf("read uint32: %w", err)
		return 0
	}
	return byteOrder.Uint32(b[:])
}

func (d *decoder) readInt64() int64 {
	if d.err != nil {
		return 0
	}
	var b [8]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		d.err = fmt.Errorf("read int64: %w", err)
		return 0
	}
	return int64(byteOrder.Uint64(b[:]))
}

func (d *decoder) readVarBytes() []byte {
	if d.err != nil {
		return nil
	}
	n := d.readUint32()
	if d.err != nil || n == 0 {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = fmt.Errorf("read var bytes: %w", err)
		return nil
	}
	return b
}

func (d *decoder) readString() string { return string(d.readVarBytes()) }

func (d *decoder) readFixed(dst []byte) {
	if d.err != nil {
		return
	}
	if _, err := io.ReadFull(d.r, dst); err != nil {
		d.err = fmt.Errorf("read fixed: %w", err)
	}
}

func (d *decoder) readFloat64() float64 {
	return math.Float64frombits(uint64(d.readInt64()))
}

func (d *decoder) readOutpoint() wire.OutPoint {
	var op wire.OutPoint
	d.readFixed(op.Hash[:])
	op.Index = d.readUint32()
	return op
}

func (d *decoder) readPubKey() *btcec.PublicKey {
	b := d.readVarBytes()
	if d.err != nil || len(b) == 0 {
		return nil
	}
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		d.err = fmt.Errorf("parse pubkey: %w", err)
		return nil
	}
	return pub
}
