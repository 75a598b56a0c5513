// Package protocol implements the framed serial protocol spoken between the
// RTC firmware and the host tool.
//
// A frame is: len seq payload crc16(hi) crc16(lo) 0x7E. The payload holds one
// or more commands, each a VLQ command id followed by its VLQ arguments.
// Host frames carry 0x10|n sequence numbers; the firmware acknowledges every
// frame with an empty frame carrying the next sequence it expects.
package protocol

// Version is the protocol/firmware version reported in the dictionary
const Version = "rtclock-0.1.0"

// Framing constants
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
	MessageSeqMask     = 0x0F

	// MessageMax is the scratch output size; several frames may be queued
	MessageMax = 512
)

// Message is one decoded frame
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // Frame data without header/trailer
	CRC      uint16
}

// IsAck reports whether the frame is an ACK/NAK (no payload)
func (m *Message) IsAck() bool {
	return len(m.Payload) == 0
}

// nextSeq advances a sequence number within the 0x10-0x1F window
func nextSeq(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
