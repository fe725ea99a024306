package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// State is the tagged lifecycle state of a session record. Revocation flips
// the state; records are only physically deleted by expiry garbage
// collection.
type State byte

const (
	StateActive  State = 0
	StateRevoked State = 1
)

const recordVersionV1 = 1

// Session is one refresh-token record and its metadata. The secret itself
// is never stored, only its SHA-256.
//
// The persisted layout keeps a fixed-offset header so the rotation script
// can parse and splice records server-side:
//
//	byte  1      version
//	byte  2      state (0 active, 1 revoked)
//	bytes 3-10   createdAt, unix seconds, big endian
//	bytes 11-18  expiresAt, unix seconds, big endian
//	bytes 19-50  SHA-256 of the refresh secret
//	byte  51     user id length, then user id
//	2 bytes      user agent length (big endian), then user agent
//	byte         ip length, then ip
type Session struct {
	ID         string
	UserID     string
	SecretHash [32]byte
	State      State
	CreatedAt  int64
	ExpiresAt  int64
	UserAgent  string
	IPAddress  string
}

func encodeSession(s *Session) ([]byte, error) {
	if len(s.UserID) == 0 || len(s.UserID) > 255 {
		return nil, errors.New("invalid session user id length")
	}
	if len(s.UserAgent) > 65535 {
		return nil, errors.New("session user agent too long")
	}
	if len(s.IPAddress) > 255 {
		return nil, errors.New("session ip too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(recordVersionV1)
	buf.WriteByte(byte(s.State))
	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(s.SecretHash[:])
	buf.WriteByte(byte(len(s.UserID)))
	buf.WriteString(s.UserID)
	buf.Write(encodeAgentSection(s.UserAgent))
	buf.WriteByte(byte(len(s.IPAddress)))
	buf.WriteString(s.IPAddress)

	return buf.Bytes(), nil
}

func decodeSession(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersionV1 {
		return nil, errors.New("invalid session record version")
	}

	state, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	s := &Session{State: State(state)}
	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, s.SecretHash[:]); err != nil {
		return nil, err
	}

	uidLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	uid := make([]byte, uidLen)
	if _, err := io.ReadFull(reader, uid); err != nil {
		return nil, err
	}
	s.UserID = string(uid)

	var uaLen uint16
	if err := binary.Read(reader, binary.BigEndian, &uaLen); err != nil {
		return nil, err
	}
	ua := make([]byte, uaLen)
	if _, err := io.ReadFull(reader, ua); err != nil {
		return nil, err
	}
	s.UserAgent = string(ua)

	ipLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	ip := make([]byte, ipLen)
	if _, err := io.ReadFull(reader, ip); err != nil {
		return nil, err
	}
	s.IPAddress = string(ip)

	return s, nil
}

// encodeAgentSection renders the length-prefixed user agent section; the
// rotation script appends it verbatim when building a successor record.
func encodeAgentSection(ua string) []byte {
	out := make([]byte, 2+len(ua))
	binary.BigEndian.PutUint16(out[:2], uint16(len(ua)))
	copy(out[2:], ua)
	return out
}

func encodeIPSection(ip string) []byte {
	out := make([]byte, 1+len(ip))
	out[0] = byte(len(ip))
	copy(out[1:], ip)
	return out
}

func encodeBE64(v int64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(v))
	return out
}
