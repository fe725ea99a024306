package otp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// Purpose namespaces one-time codes so a code issued for one flow can never
// satisfy another.
type Purpose string

const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordReset     Purpose = "password_reset"
)

func (p Purpose) valid() bool {
	return p == PurposeEmailVerification || p == PurposePasswordReset
}

type recordState byte

const (
	stateActive recordState = 0
	stateUsed   recordState = 1
)

const recordVersionV1 = 1

// record is the persisted one-time-code entry for an (email, purpose) pair.
// The layout keeps a fixed-offset header so the issue script can read the
// issuance timestamp without a full decode:
//
//	byte  1      version
//	byte  2      state (0 active, 1 used)
//	bytes 3-10   issuedAt, unix seconds, big endian
//	bytes 11-18  expiresAt, unix seconds, big endian
//	bytes 19-50  SHA-256 of the plaintext code
//	byte  51     owner user id length
//	bytes 52-    owner user id
type record struct {
	State    recordState
	IssuedAt int64
	ExpireAt int64
	CodeHash [32]byte
	OwnerID  string
}

func encodeRecord(r *record) ([]byte, error) {
	if len(r.OwnerID) > 255 {
		return nil, errors.New("otp owner id too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(recordVersionV1)
	buf.WriteByte(byte(r.State))
	if err := binary.Write(&buf, binary.BigEndian, r.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.ExpireAt); err != nil {
		return nil, err
	}
	buf.Write(r.CodeHash[:])
	buf.WriteByte(byte(len(r.OwnerID)))
	buf.WriteString(r.OwnerID)

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersionV1 {
		return nil, errors.New("invalid otp record version")
	}

	state, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	r := &record{State: recordState(state)}
	if err := binary.Read(reader, binary.BigEndian, &r.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.ExpireAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, r.CodeHash[:]); err != nil {
		return nil, err
	}

	ownerLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	owner := make([]byte, ownerLen)
	if _, err := io.ReadFull(reader, owner); err != nil {
		return nil, err
	}
	r.OwnerID = string(owner)

	return r, nil
}
