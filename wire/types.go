package wire

// Message types occupy disjoint numeric ranges so a single receive path can
// demultiplex by the first byte (spec §3).
const (
	// Direct messaging, 0x10-0x19.
	TypeText     uint8 = 0x10
	TypeAck      uint8 = 0x11
	TypeRead     uint8 = 0x12
	TypeTyping   uint8 = 0x13
	TypeFileMeta uint8 = 0x14
	TypeFileChnk uint8 = 0x15
	TypeFileAck  uint8 = 0x16
	TypeReaction uint8 = 0x17
	TypeDelete   uint8 = 0x18
	TypeEdit     uint8 = 0x19

	// Group messaging, 0x20-0x27.
	TypeGroupLo uint8 = 0x20
	TypeGroupHi uint8 = 0x27

	// Presence, 0x30-0x31.
	TypePresenceLo uint8 = 0x30
	TypePresenceHi uint8 = 0x31

	// DNS, 0xD0-0xD6.
	TypeDNSRegister    uint8 = 0xD0
	TypeDNSRegisterAck uint8 = 0xD1
	TypeDNSLookup      uint8 = 0xD2
	TypeDNSResponse    uint8 = 0xD3
	TypeDNSUpdate      uint8 = 0xD4
	TypeDNSUpdateAck   uint8 = 0xD5
	TypeDNSAnnounce    uint8 = 0xD6

	// Mail, 0xE0-0xEA (reserved; out of core scope).
	TypeMailLo uint8 = 0xE0
	TypeMailHi uint8 = 0xEA
)

// Relay control messages use their own disjoint byte range, defined in the
// relay package (they never appear on the onion transport's demux path).

// IsDirectMessage reports whether t falls in the 0x10-0x19 direct-messaging
// range that the chat package owns.
func IsDirectMessage(t uint8) bool { return t >= TypeText && t <= TypeEdit }

// IsDNSMessage reports whether t falls in the 0xD0-0xD6 DNS range.
func IsDNSMessage(t uint8) bool { return t >= TypeDNSRegister && t <= TypeDNSAnnounce }

// IsGroupMessage reports whether t falls in the 0x20-0x27 group range.
func IsGroupMessage(t uint8) bool { return t >= TypeGroupLo && t <= TypeGroupHi }

// IsPresenceMessage reports whether t falls in the 0x30-0x31 presence range.
func IsPresenceMessage(t uint8) bool { return t >= TypePresenceLo && t <= TypePresenceHi }
