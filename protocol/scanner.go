package protocol

import "sync/atomic"

// Scanner splits a byte stream into frames. After a malformed frame it
// drops bytes up to the next sync byte and starts over.
type Scanner struct {
	synchronized bool

	// requireDest rejects frames whose sequence lacks MessageDest; set on
	// the firmware side where only host frames are valid
	requireDest bool

	// OnResync is called when sync is regained after an error
	OnResync func()

	// Errors counts dropped frames (atomic)
	Errors uint32
}

// NewScanner creates a synchronized scanner
func NewScanner(requireDest bool) *Scanner {
	return &Scanner{synchronized: true, requireDest: requireDest}
}

// Synchronized reports whether the scanner is aligned on frame boundaries
func (s *Scanner) Synchronized() bool {
	return s.synchronized
}

// Reset forces the scanner back into the synchronized state
func (s *Scanner) Reset() {
	s.synchronized = true
}

// Scan calls fn for every complete frame in data and returns the number of
// bytes consumed. A trailing partial frame is not consumed. The Message
// payload aliases data and is only valid during fn.
func (s *Scanner) Scan(data []byte, fn func(*Message)) int {
	total := len(data)

	for len(data) > 0 {
		if !s.synchronized {
			i := indexSync(data)
			if i < 0 {
				data = nil
				break
			}
			data = data[i+1:]
			s.synchronized = true
			if s.OnResync != nil {
				s.OnResync()
			}
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}
		if len(data) < MessageLengthMin {
			break
		}

		msgLen := int(data[MessagePositionLen])
		seq := data[MessagePositionSeq]
		if msgLen < MessageLengthMin || msgLen > MessageLengthMax ||
			(s.requireDest && seq&^MessageSeqMask != MessageDest) {
			s.fail()
			continue
		}
		if len(data) < msgLen {
			break
		}
		if data[msgLen-MessageTrailerSync] != MessageValueSync {
			s.fail()
			continue
		}

		frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 | uint16(data[msgLen-MessageTrailerCRC+1])
		if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
			s.fail()
			continue
		}

		fn(&Message{
			Length:   uint8(msgLen),
			Sequence: seq,
			Payload:  data[MessageHeaderSize : msgLen-MessageTrailerSize],
			CRC:      frameCRC,
		})
		data = data[msgLen:]
	}

	return total - len(data)
}

func (s *Scanner) fail() {
	s.synchronized = false
	atomic.AddUint32(&s.Errors, 1)
}

func indexSync(data []byte) int {
	for i, b := range data {
		if b == MessageValueSync {
			return i
		}
	}
	return -1
}

// EncodeFrame wraps payload in a frame with the given sequence byte
func EncodeFrame(seq uint8, payload []byte) ([]byte, error) {
	msgLen := MessageLengthMin + len(payload)
	if msgLen > MessageLengthMax {
		return nil, ErrFrameTooLong
	}
	frame := make([]byte, 0, msgLen)
	frame = append(frame, uint8(msgLen), seq)
	frame = append(frame, payload...)
	return appendTrailer(frame), nil
}
