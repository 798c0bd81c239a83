package session

import (
	"encoding/binary"
	"errors"
)

const recordVersion1 = 1

// Record is the single session entry a subject may hold. The stored refresh
// token is the only valid rotation credential for the subject; email and
// roles are a snapshot taken at issue time.
type Record struct {
	RefreshToken string
	Email        string
	Roles        []string
	CreatedAt    int64
	ExpiresAt    int64
}

// ErrCorruptRecord is returned when a stored blob cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt session record")

// Encode serializes a Record into the compact length-prefixed layout the
// rotation script parses: version byte, u16-prefixed refresh token,
// u16-prefixed email, role list (u8 count, u8-prefixed entries), then
// created-at and expires-at as big-endian int64. The refresh token always
// starts at byte 3 and the expiry is always the final 8 bytes; the Lua
// rotation relies on both.
func Encode(r *Record) ([]byte, error) {
	if r == nil {
		return nil, errors.New("nil session record")
	}
	if len(r.RefreshToken) == 0 || len(r.RefreshToken) > 0xFFFF {
		return nil, errors.New("invalid refresh token length")
	}
	if len(r.Email) > 0xFFFF {
		return nil, errors.New("invalid email length")
	}
	if len(r.Roles) > 0xFF {
		return nil, errors.New("too many roles")
	}

	size := 1 + 2 + len(r.RefreshToken) + 2 + len(r.Email) + 1 + 16
	for _, role := range r.Roles {
		if len(role) == 0 || len(role) > 0xFF {
			return nil, errors.New("invalid role length")
		}
		size += 1 + len(role)
	}

	out := make([]byte, 0, size)
	out = append(out, recordVersion1)
	out = binary.BigEndian.AppendUint16(out, uint16(len(r.RefreshToken)))
	out = append(out, r.RefreshToken...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(r.Email)))
	out = append(out, r.Email...)
	out = append(out, byte(len(r.Roles)))
	for _, role := range r.Roles {
		out = append(out, byte(len(role)))
		out = append(out, role...)
	}
	out = binary.BigEndian.AppendUint64(out, uint64(r.CreatedAt))
	out = binary.BigEndian.AppendUint64(out, uint64(r.ExpiresAt))
	return out, nil
}

// Decode parses a blob produced by Encode.
func Decode(data []byte) (*Record, error) {
	if len(data) < 1 || data[0] != recordVersion1 {
		return nil, ErrCorruptRecord
	}
	idx := 1

	refresh, idx, err := readString16(data, idx)
	if err != nil {
		return nil, err
	}
	email, idx, err := readString16(data, idx)
	if err != nil {
		return nil, err
	}

	if idx >= len(data) {
		return nil, ErrCorruptRecord
	}
	roleCount := int(data[idx])
	idx++

	roles := make([]string, 0, roleCount)
	for i := 0; i < roleCount; i++ {
		if idx >= len(data) {
			return nil, ErrCorruptRecord
		}
		roleLen := int(data[idx])
		idx++
		if idx+roleLen > len(data) {
			return nil, ErrCorruptRecord
		}
		roles = append(roles, string(data[idx:idx+roleLen]))
		idx += roleLen
	}

	if idx+16 != len(data) {
		return nil, ErrCorruptRecord
	}
	createdAt := int64(binary.BigEndian.Uint64(data[idx:]))
	expiresAt := int64(binary.BigEndian.Uint64(data[idx+8:]))

	return &Record{
		RefreshToken: refresh,
		Email:        email,
		Roles:        roles,
		CreatedAt:    createdAt,
		ExpiresAt:    expiresAt,
	}, nil
}

func readString16(data []byte, idx int) (string, int, error) {
	if idx+2 > len(data) {
		return "", 0, ErrCorruptRecord
	}
	n := int(binary.BigEndian.Uint16(data[idx:]))
	idx += 2
	if idx+n > len(data) {
		return "", 0, ErrCorruptRecord
	}
	return string(data[idx : idx+n]), idx + n, nil
}
