package sampledir

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/moonfire-nvr/moonfire-nvr/internal/storage"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

// metaMagic and metaVersion identify the on-disk `meta` file format.
const (
	metaMagic   = "MFDR"
	metaVersion = 1
)

// openRecord mirrors one of the two open references a meta file carries.
type openRecord struct {
	ID    clock.OpenID
	UUID  [16]byte
	Start clock.Timestamp90k
	End   clock.Timestamp90k // only meaningful for lastComplete
}

// Meta is the parsed contents of a sample file directory's `meta` file.
type Meta struct {
	DirUUID        [16]byte
	LastComplete   *openRecord
	InProgress     *openRecord
}

// marshalMeta serializes m with length-prefixed fields and a trailing
// CRC32 over the payload.
func marshalMeta(m *Meta) []byte {
	var buf bytes.Buffer
	buf.WriteString(metaMagic)
	binary.Write(&buf, binary.BigEndian, uint16(metaVersion)) //nolint:errcheck

	writeField(&buf, m.DirUUID[:])
	writeOpenRecord(&buf, m.LastComplete, true)
	writeOpenRecord(&buf, m.InProgress, false)

	sum := crc32.ChecksumIEEE(buf.Bytes())
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], sum)
	buf.Write(crcBuf[:])
	return buf.Bytes()
}

func writeField(buf *bytes.Buffer, data []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf.Write(lenBuf[:])
	buf.Write(data)
}

func writeOpenRecord(buf *bytes.Buffer, o *openRecord, withEnd bool) {
	if o == nil {
		writeField(buf, nil)
		return
	}
	var payload bytes.Buffer
	binary.Write(&payload, binary.BigEndian, int64(o.ID))    //nolint:errcheck
	payload.Write(o.UUID[:])
	binary.Write(&payload, binary.BigEndian, int64(o.Start)) //nolint:errcheck
	if withEnd {
		binary.Write(&payload, binary.BigEndian, int64(o.End)) //nolint:errcheck
	}
	writeField(buf, payload.Bytes())
}

// unmarshalMeta parses the byte form written by marshalMeta. A mismatched
// magic/version or a failed CRC both return a storage.KindCorrupt error.
func unmarshalMeta(data []byte) (*Meta, error) {
	if len(data) < len(metaMagic)+2+4 {
		return nil, storage.New(storage.KindCorrupt, "meta file too short")
	}
	if string(data[:len(metaMagic)]) != metaMagic {
		return nil, storage.New(storage.KindCorrupt, "meta file has wrong magic")
	}
	version := binary.BigEndian.Uint16(data[len(metaMagic) : len(metaMagic)+2])
	if version != metaVersion {
		return nil, storage.New(storage.KindCorrupt, fmt.Sprintf("meta file has unsupported version %d", version))
	}

	payload := data[:len(data)-4]
	wantCRC := binary.BigEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return nil, storage.New(storage.KindCorrupt, "meta file CRC mismatch")
	}

	r := bytes.NewReader(data[len(metaMagic)+2 : len(data)-4])

	dirUUID, err := readField(r)
	if err != nil {
		return nil, err
	}
	if len(dirUUID) != 16 {
		return nil, storage.New(storage.KindCorrupt, "meta file has malformed directory UUID")
	}

	lastComplete, err := readOpenRecord(r, true)
	if err != nil {
		return nil, err
	}
	inProgress, err := readOpenRecord(r, false)
	if err != nil {
		return nil, err
	}

	m := &Meta{LastComplete: lastComplete, InProgress: inProgress}
	copy(m.DirUUID[:], dirUUID)
	return m, nil
}

func readField(r *bytes.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, storage.Wrap(storage.KindCorrupt, "read field length", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, nil
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, storage.Wrap(storage.KindCorrupt, "read field payload", err)
	}
	return data, nil
}

func readOpenRecord(r *bytes.Reader, withEnd bool) (*openRecord, error) {
	data, err := readField(r)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	want := 8 + 16 + 8
	if withEnd {
		want += 8
	}
	if len(data) != want {
		return nil, storage.New(storage.KindCorrupt, "meta file has malformed open record")
	}
	br := bytes.NewReader(data)
	var o openRecord
	var id, start, end int64
	binary.Read(br, binary.BigEndian, &id)    //nolint:errcheck
	io.ReadFull(br, o.UUID[:])                //nolint:errcheck
	binary.Read(br, binary.BigEndian, &start) //nolint:errcheck
	o.ID = clock.OpenID(id)
	o.Start = clock.Timestamp90k(start)
	if withEnd {
		binary.Read(br, binary.BigEndian, &end) //nolint:errcheck
		o.End = clock.Timestamp90k(end)
	}
	return &o, nil
}
