package protocol

import "sync/atomic"

// CommandHandler is called for each command in a received frame. It decodes
// its own arguments from data, leaving data positioned at the next command.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the firmware side of the link: it validates host frames,
// dispatches their commands and queues ACKs and responses into output
type Transport struct {
	scanner *Scanner

	// nextSequence is the sequence expected from the host (0x10-0x1F); it
	// is also the sequence stamped on ACKs and responses
	nextSequence uint32 // atomic uint8 stored as uint32

	output        OutputBuffer
	handler       CommandHandler
	resetCallback func() // Called when host reset is detected
	flushCallback func() // Called after an ACK is queued

	handlerErrors uint32 // atomic
}

// NewTransport creates a Transport writing to output
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	t := &Transport{
		scanner:      NewScanner(true),
		nextSequence: MessageDest,
		output:       output,
		handler:      handler,
	}
	t.scanner.OnResync = t.encodeAckNak
	return t
}

// Receive processes all complete frames in input and pops what it consumed
func (t *Transport) Receive(input InputBuffer) {
	consumed := t.scanner.Scan(input.Data(), t.handleFrame)
	if consumed > 0 {
		input.Pop(consumed)
	}
}

func (t *Transport) handleFrame(msg *Message) {
	expected := uint8(atomic.LoadUint32(&t.nextSequence))

	// Sequence back at the start means the host restarted
	if msg.Sequence == MessageDest && expected != MessageDest {
		expected = MessageDest
		atomic.StoreUint32(&t.nextSequence, MessageDest)
		if t.resetCallback != nil {
			t.resetCallback()
		}
	}

	if msg.Sequence == expected {
		atomic.StoreUint32(&t.nextSequence, uint32(nextSeq(expected)))
		if err := t.parseFrame(msg.Payload); err != nil {
			atomic.AddUint32(&t.handlerErrors, 1)
		}
	}
	// A frame with the wrong sequence is answered too; the ACK then acts as
	// a NAK telling the host which sequence we expect
	t.encodeAckNak()
}

// parseFrame dispatches every command in a frame
func (t *Transport) parseFrame(frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			// A panicking handler leaves the frame half parsed; resync
			t.scanner.fail()
			err = errHandlerPanic
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.scanner.fail()
			return err
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			// The rest of the frame can't be located once a handler
			// fails mid-decode
			return err
		}
	}
	return nil
}

// encodeAckNak queues an empty frame carrying the next expected sequence
func (t *Transport) encodeAckNak() {
	ns := uint8(atomic.LoadUint32(&t.nextSequence))
	ack := appendTrailer([]byte{MessageLengthMin, ns})
	t.output.Output(ack)

	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame writes one frame built by frameData into the output
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	cursor := t.output.CurPosition()

	seq := uint8(atomic.LoadUint32(&t.nextSequence))
	t.output.Output([]byte{0, seq})
	frameData(t.output)

	frameLen := len(t.output.DataSince(cursor)) + MessageTrailerSize
	t.output.Update(cursor, uint8(frameLen))

	crc := CRC16(t.output.DataSince(cursor))
	t.output.Output([]byte{byte(crc >> 8), byte(crc), MessageValueSync})
}

// SendCommand queues a response or unsolicited message
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns the transport to its power-on state
func (t *Transport) Reset() {
	t.scanner.Reset()
	atomic.StoreUint32(&t.nextSequence, MessageDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback sets a callback to be called when host reset is detected
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback sets a callback run after each ACK is queued so the
// platform can push it out immediately
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

// HandlerErrors returns the number of frames whose handler failed
func (t *Transport) HandlerErrors() uint32 {
	return atomic.LoadUint32(&t.handlerErrors)
}

// FrameErrors returns the number of malformed frames dropped
func (t *Transport) FrameErrors() uint32 {
	return atomic.LoadUint32(&t.scanner.Errors)
}
