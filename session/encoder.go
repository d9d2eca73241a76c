package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"time"
)

const (
	sessionFormatVersionCurrent = 2
	sessionFormatVersionV1      = 1
)

var errFieldTooLong = errors.New("session field too long")

// Encode serializes s into the versioned binary layout. SessionID and Source are not
// part of the blob; the ID is the key.
//
// v2 layout: version | uid | tid | role | adm(int32) | ip | ua(u16 len) | fp |
// created | last_activity | expires (unix ms, int64 each). v1 had no fingerprint and no
// last-activity timestamp.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(sessionFormatVersionCurrent)

	for _, f := range []string{s.UserID, s.TenantID, s.Role} {
		if err := writeShort(&buf, f); err != nil {
			return nil, err
		}
	}
	if s.AdminLevel < math.MinInt32 || s.AdminLevel > math.MaxInt32 {
		return nil, errors.New("admin level out of range")
	}
	if err := binary.Write(&buf, binary.BigEndian, int32(s.AdminLevel)); err != nil {
		return nil, err
	}
	if err := writeShort(&buf, s.IPAddress); err != nil {
		return nil, err
	}
	if err := writeLong(&buf, s.UserAgent); err != nil {
		return nil, err
	}
	if err := writeShort(&buf, s.DeviceFingerprint); err != nil {
		return nil, err
	}
	for _, ts := range []time.Time{s.CreatedAt, s.LastActivity, s.ExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts.UnixMilli()); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Decode parses a blob written by Encode, including older versions.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent && version != sessionFormatVersionV1 {
		return nil, errors.New("invalid session version")
	}

	s := &Session{}
	if s.UserID, err = readShort(reader); err != nil {
		return nil, err
	}
	if s.TenantID, err = readShort(reader); err != nil {
		return nil, err
	}
	if s.Role, err = readShort(reader); err != nil {
		return nil, err
	}
	var adm int32
	if err := binary.Read(reader, binary.BigEndian, &adm); err != nil {
		return nil, err
	}
	s.AdminLevel = int(adm)
	if s.IPAddress, err = readShort(reader); err != nil {
		return nil, err
	}
	if s.UserAgent, err = readLong(reader); err != nil {
		return nil, err
	}
	if version == sessionFormatVersionCurrent {
		if s.DeviceFingerprint, err = readShort(reader); err != nil {
			return nil, err
		}
	}

	var created, last, expires int64
	if err := binary.Read(reader, binary.BigEndian, &created); err != nil {
		return nil, err
	}
	if version == sessionFormatVersionCurrent {
		if err := binary.Read(reader, binary.BigEndian, &last); err != nil {
			return nil, err
		}
	} else {
		last = created
	}
	if err := binary.Read(reader, binary.BigEndian, &expires); err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in session blob")
	}
	s.CreatedAt = time.UnixMilli(created)
	s.LastActivity = time.UnixMilli(last)
	s.ExpiresAt = time.UnixMilli(expires)
	if s.ExpiresAt.Before(s.CreatedAt) {
		return nil, errors.New("session expires before creation")
	}
	return s, nil
}

func writeShort(buf *bytes.Buffer, v string) error {
	if len(v) > math.MaxUint8 {
		return errFieldTooLong
	}
	buf.WriteByte(byte(len(v)))
	buf.WriteString(v)
	return nil
}

func writeLong(buf *bytes.Buffer, v string) error {
	if len(v) > math.MaxUint16 {
		return errFieldTooLong
	}
	_ = binary.Write(buf, binary.BigEndian, uint16(len(v)))
	buf.WriteString(v)
	return nil
}

func readShort(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	return readN(r, int(n))
}

func readLong(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	return readN(r, int(n))
}

func readN(r *bytes.Reader, n int) (string, error) {
	if n > r.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
