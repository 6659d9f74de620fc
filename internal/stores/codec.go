package stores

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

var errRecordCorrupt = errors.New("record corrupt")

type recordWriter struct {
	buf bytes.Buffer
	err error
}

func newRecordWriter(version byte) *recordWriter {
	w := &recordWriter{}
	w.buf.WriteByte(version)
	return w
}

func (w *recordWriter) string16(s string) {
	if w.err != nil {
		return
	}
	if len(s) > math.MaxUint16 {
		w.err = errors.New("record field too long")
		return
	}
	_ = binary.Write(&w.buf, binary.BigEndian, uint16(len(s)))
	w.buf.WriteString(s)
}

func (w *recordWriter) int64(v int64) {
	if w.err == nil {
		_ = binary.Write(&w.buf, binary.BigEndian, v)
	}
}

func (w *recordWriter) uint16(v uint16) {
	if w.err == nil {
		_ = binary.Write(&w.buf, binary.BigEndian, v)
	}
}

func (w *recordWriter) raw(b []byte) {
	if w.err == nil {
		w.buf.Write(b)
	}
}

func (w *recordWriter) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

type recordReader struct {
	r   *bytes.Reader
	err error
}

func newRecordReader(data []byte, version byte) *recordReader {
	rr := &recordReader{r: bytes.NewReader(data)}
	v, err := rr.r.ReadByte()
	if err != nil || v != version {
		rr.err = errRecordCorrupt
	}
	return rr
}

func (rr *recordReader) string16() string {
	if rr.err != nil {
		return ""
	}
	var n uint16
	if err := binary.Read(rr.r, binary.BigEndian, &n); err != nil {
		rr.err = errRecordCorrupt
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rr.r, b); err != nil {
		rr.err = errRecordCorrupt
		return ""
	}
	return string(b)
}

func (rr *recordReader) int64() int64 {
	var v int64
	if rr.err == nil {
		if err := binary.Read(rr.r, binary.BigEndian, &v); err != nil {
			rr.err = errRecordCorrupt
		}
	}
	return v
}

func (rr *recordReader) uint16() uint16 {
	var v uint16
	if rr.err == nil {
		if err := binary.Read(rr.r, binary.BigEndian, &v); err != nil {
			rr.err = errRecordCorrupt
		}
	}
	return v
}

func (rr *recordReader) raw(n int) []byte {
	if rr.err != nil {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rr.r, b); err != nil {
		rr.err = errRecordCorrupt
		return nil
	}
	return b
}

func (rr *recordReader) done() error {
	if rr.err != nil {
		return rr.err
	}
	if rr.r.Len() != 0 {
		return errRecordCorrupt
	}
	return nil
}

func digest(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}

const maxWatchRetries = 4
