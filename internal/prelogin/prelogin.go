// Package prelogin encodes and decodes the PRELOGIN message payload: the
// option-token table both sides exchange in plaintext before deciding
// whether the secure-channel bootstrap runs.
package prelogin

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Option tokens.
const (
	TokenVersion    uint8 = 0x00
	TokenEncryption uint8 = 0x01
	TokenInstance   uint8 = 0x02
	TokenThreadID   uint8 = 0x03
	TokenMARS       uint8 = 0x04
	TokenTerminator uint8 = 0xFF
)

// Encryption negotiation values.
const (
	EncryptOff          uint8 = 0x00 // encrypt login only
	EncryptOn           uint8 = 0x01 // encrypt the whole session
	EncryptNotSupported uint8 = 0x02 // no encryption available
	EncryptRequired     uint8 = 0x03 // refuse unencrypted sessions
)

// optionHeaderSize is token(1) + offset(2) + length(2).
const optionHeaderSize = 5

// Version identifies the client or server build.
type Version struct {
	Major    uint8
	Minor    uint8
	Build    uint16
	SubBuild uint16
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.SubBuild)
}

// Options is the decoded PRELOGIN option set. Unknown tokens are ignored on
// decode and never produced on encode.
type Options struct {
	Version    Version
	Encryption uint8
	Instance   string
	ThreadID   uint32
	MARS       bool
}

// EncryptionName returns a diagnostic name for an encryption value.
func EncryptionName(v uint8) string {
	switch v {
	case EncryptOff:
		return "OFF"
	case EncryptOn:
		return "ON"
	case EncryptNotSupported:
		return "NOT_SUPPORTED"
	case EncryptRequired:
		return "REQUIRED"
	}
	return "UNKNOWN"
}

// Encode serializes the option set: a table of (token, offset, length)
// headers terminated by 0xFF, followed by the option data at the offsets
// the headers point to.
func Encode(o *Options) []byte {
	type entry struct {
		token uint8
		data  []byte
	}

	version := make([]byte, 6)
	version[0] = o.Version.Major
	version[1] = o.Version.Minor
	binary.BigEndian.PutUint16(version[2:4], o.Version.Build)
	binary.BigEndian.PutUint16(version[4:6], o.Version.SubBuild)

	instance := append([]byte(o.Instance), 0)

	threadID := make([]byte, 4)
	binary.BigEndian.PutUint32(threadID, o.ThreadID)

	mars := []byte{0}
	if o.MARS {
		mars[0] = 1
	}

	entries := []entry{
		{TokenVersion, version},
		{TokenEncryption, []byte{o.Encryption}},
		{TokenInstance, instance},
		{TokenThreadID, threadID},
		{TokenMARS, mars},
	}

	headerLen := len(entries)*optionHeaderSize + 1
	total := headerLen
	for _, e := range entries {
		total += len(e.data)
	}

	buf := make([]byte, total)
	offset := headerLen
	pos := 0
	for _, e := range entries {
		buf[pos] = e.token
		binary.BigEndian.PutUint16(buf[pos+1:pos+3], uint16(offset))
		binary.BigEndian.PutUint16(buf[pos+3:pos+5], uint16(len(e.data)))
		copy(buf[offset:], e.data)
		offset += len(e.data)
		pos += optionHeaderSize
	}
	buf[pos] = TokenTerminator
	return buf
}

// Decode parses a PRELOGIN payload. Option data may appear in any order;
// offsets are validated against the payload bounds.
func Decode(data []byte) (*Options, error) {
	o := &Options{Encryption: EncryptNotSupported}

	pos := 0
	for {
		if pos >= len(data) {
			return nil, errors.New("prelogin: missing terminator")
		}
		token := data[pos]
		if token == TokenTerminator {
			return o, nil
		}
		if pos+optionHeaderSize > len(data) {
			return nil, errors.New("prelogin: truncated option header")
		}
		offset := int(binary.BigEndian.Uint16(data[pos+1 : pos+3]))
		length := int(binary.BigEndian.Uint16(data[pos+3 : pos+5]))
		if offset+length > len(data) {
			return nil, fmt.Errorf("prelogin: option 0x%02x data out of bounds", token)
		}
		value := data[offset : offset+length]

		switch token {
		case TokenVersion:
			if length < 6 {
				return nil, errors.New("prelogin: short version option")
			}
			o.Version = Version{
				Major:    value[0],
				Minor:    value[1],
				Build:    binary.BigEndian.Uint16(value[2:4]),
				SubBuild: binary.BigEndian.Uint16(value[4:6]),
			}
		case TokenEncryption:
			if length < 1 {
				return nil, errors.New("prelogin: short encryption option")
			}
			o.Encryption = value[0]
		case TokenInstance:
			if length > 0 && value[length-1] == 0 {
				value = value[:length-1]
			}
			o.Instance = string(value)
		case TokenThreadID:
			if length >= 4 {
				o.ThreadID = binary.BigEndian.Uint32(value[:4])
			}
		case TokenMARS:
			if length >= 1 {
				o.MARS = value[0] != 0
			}
		default:
			// Unknown option: skip.
		}
		pos += optionHeaderSize
	}
}
