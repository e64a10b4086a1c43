// Package protocol defines the TDS packet format: the fixed 8-byte header,
// the packet type and status constants, and the binary codec.
package protocol

// Packet type constants (header byte 0).
const (
	TypeSQLBatch    uint8 = 0x01 // SQL batch request
	TypeRPC         uint8 = 0x03 // Remote procedure call request
	TypeTabularData uint8 = 0x04 // Server response token stream
	TypeAttention   uint8 = 0x06 // Attention signal (cancel)
	TypeBulkLoad    uint8 = 0x07 // Bulk load data
	TypeFedAuth     uint8 = 0x08 // Federated auth token
	TypeTranMgr     uint8 = 0x0E // Transaction manager request
	TypeLogin7      uint8 = 0x10 // LOGIN7 request
	TypeSSPI        uint8 = 0x11 // SSPI message
	TypePreLogin    uint8 = 0x12 // PRELOGIN; also carries TLS handshake bytes
)

// Status bit flags (header byte 1).
const (
	StatusEOM           uint8 = 0x01 // last packet of the message
	StatusIgnore        uint8 = 0x02 // ignore this event (EOM must also be set)
	StatusResetConn     uint8 = 0x08 // reset connection before processing
	StatusResetConnSkip uint8 = 0x10 // reset connection, keep transaction
)

// HeaderSize is the fixed header size:
// Type(1) + Status(1) + Length(2) + SPID(2) + PacketID(1) + Window(1).
const HeaderSize = 8

// MaxPacketSize is the largest representable packet: the Length header
// field is an unsigned 16-bit total that includes the header itself.
const MaxPacketSize = 0xFFFF

// DefaultPacketSize is used until the peer negotiates a different value.
const DefaultPacketSize = 4096

// Packet is one framed unit of the TDS wire protocol. It is built once by
// the framer (or decoded off the wire) and not mutated afterwards.
type Packet struct {
	Type     uint8  // TypeSQLBatch … TypePreLogin
	Status   uint8  // StatusEOM | StatusResetConn | …
	SPID     uint16 // server process id; spare (zero) on client-built packets
	PacketID uint8  // 1-based sequence number within a message, wraps mod 256
	Payload  []byte // at most negotiated packet size − HeaderSize bytes
}

// New builds an outbound packet of the given type. last marks the final
// fragment of the message; reset asserts the reset-connection status bit.
func New(typ uint8, payload []byte, packetID uint8, last, reset bool) *Packet {
	var status uint8
	if last {
		status |= StatusEOM
	}
	if reset {
		status |= StatusResetConn
	}
	return &Packet{
		Type:     typ,
		Status:   status,
		PacketID: packetID,
		Payload:  payload,
	}
}

// Last reports whether this packet terminates its message.
func (p *Packet) Last() bool { return p.Status&StatusEOM != 0 }

// Reset reports whether the reset-connection status bit is set.
func (p *Packet) Reset() bool { return p.Status&StatusResetConn != 0 }

// Length returns the total wire length of the packet, header included.
func (p *Packet) Length() int { return HeaderSize + len(p.Payload) }

// typeNames maps packet types to their diagnostic names.
var typeNames = map[uint8]string{
	TypeSQLBatch:    "SQLBATCH",
	TypeRPC:         "RPC",
	TypeTabularData: "TABULAR",
	TypeAttention:   "ATTENTION",
	TypeBulkLoad:    "BULKLOAD",
	TypeFedAuth:     "FEDAUTH",
	TypeTranMgr:     "TRANMGR",
	TypeLogin7:      "LOGIN7",
	TypeSSPI:        "SSPI",
	TypePreLogin:    "PRELOGIN",
}

// TypeName returns a short diagnostic name for a packet type.
func TypeName(typ uint8) string {
	if name, ok := typeNames[typ]; ok {
		return name
	}
	return "UNKNOWN"
}
