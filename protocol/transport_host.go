package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultAckTimeout bounds the wait for the firmware's ACK
const DefaultAckTimeout = 2 * time.Second

var (
	ErrTransportClosed = errors.New("transport stopped")
	ErrNak             = errors.New("firmware expected a different sequence")
)

// ResponseHandler sees every response before it is queued. Returning true
// marks it consumed (it will not show up in ReceiveResponse).
type ResponseHandler func(cmdID uint16, data *[]byte) bool

// HostTransport is the host side of the link: it sends command frames,
// waits for their ACKs and collects responses on a background reader
type HostTransport struct {
	port io.ReadWriteCloser

	currentSeq uint32 // atomic uint8 stored as uint32, 0x10-0x1F
	ackTimeout time.Duration

	scanner     *Scanner
	inputBuffer *FifoBuffer

	ackChan      chan uint8
	responseChan chan *Message

	handlerMu       sync.RWMutex
	responseHandler ResponseHandler

	// sendMu keeps one command in flight at a time
	sendMu sync.Mutex

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHostTransport starts a reader on port and returns the transport
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		currentSeq:   MessageDest,
		ackTimeout:   DefaultAckTimeout,
		scanner:      NewScanner(false),
		inputBuffer:  NewFifoBuffer(1024),
		ackChan:      make(chan uint8, 4),
		responseChan: make(chan *Message, 16),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}

	go t.readLoop()

	return t
}

// SetAckTimeout changes the ACK wait used by SendCommand
func (t *HostTransport) SetAckTimeout(d time.Duration) {
	if d > 0 {
		t.ackTimeout = d
	}
}

// SendCommand sends one command and waits for its ACK
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, t.ackTimeout)
}

// SendCommandWithTimeout sends one command with a custom ACK timeout
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}

	seq := uint8(atomic.LoadUint32(&t.currentSeq))
	frame, err := EncodeFrame(seq, scratch.Result())
	if err != nil {
		return fmt.Errorf("failed to build command %d: %w", cmdID, err)
	}

	t.drainAcks()
	if n, err := t.port.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	} else if n != len(frame) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(frame))
	}

	return t.waitForAck(seq, timeout)
}

func (t *HostTransport) drainAcks() {
	for {
		select {
		case <-t.ackChan:
		default:
			return
		}
	}
}

// waitForAck waits for the ACK that follows seq. A different sequence is
// a NAK; the firmware's expectation is adopted so the next send lines up.
func (t *HostTransport) waitForAck(seq uint8, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-t.ackChan:
		atomic.StoreUint32(&t.currentSeq, uint32(ack))
		if ack != nextSeq(seq) {
			return fmt.Errorf("%w: sent 0x%02x, firmware wants 0x%02x", ErrNak, seq, ack)
		}
		return nil

	case <-timer.C:
		return fmt.Errorf("ACK timeout after %v", timeout)

	case <-t.stopChan:
		return ErrTransportClosed
	}
}

// ReceiveResponse returns the next queued response
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-t.responseChan:
		return resp, nil

	case <-timer.C:
		return nil, fmt.Errorf("response timeout after %v", timeout)

	case <-t.stopChan:
		return nil, ErrTransportClosed
	}
}

// SetResponseHandler installs a callback that sees responses first
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	t.responseHandler = handler
	t.handlerMu.Unlock()
}

// readLoop feeds the port into the scanner until the transport stops
func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buffer := make([]byte, 256)

	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buffer)
		if n > 0 {
			t.inputBuffer.Write(buffer[:n])
			consumed := t.scanner.Scan(t.inputBuffer.Data(), t.dispatchMessage)
			t.inputBuffer.Pop(consumed)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			// Serial read timeouts surface as errors on some platforms
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// dispatchMessage routes a frame to the ACK or response channel
func (t *HostTransport) dispatchMessage(msg *Message) {
	if msg.IsAck() {
		select {
		case t.ackChan <- msg.Sequence:
		default:
		}
		return
	}

	// The scanner's payload aliases the input buffer
	payload := make([]byte, len(msg.Payload))
	copy(payload, msg.Payload)
	resp := &Message{Length: msg.Length, Sequence: msg.Sequence, Payload: payload, CRC: msg.CRC}

	t.handlerMu.RLock()
	handler := t.responseHandler
	t.handlerMu.RUnlock()
	if handler != nil {
		data := payload
		cmdID, err := DecodeVLQUint(&data)
		if err == nil && handler(uint16(cmdID), &data) {
			return
		}
	}

	select {
	case t.responseChan <- resp:
	default:
		// Full: drop the oldest so recent responses win
		select {
		case <-t.responseChan:
		default:
		}
		select {
		case t.responseChan <- resp:
		default:
		}
	}
}

// Close stops the reader and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stopChan)
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.doneChan
	})
	return err
}

// Reset returns the sequence to its initial value and drops queued input
func (t *HostTransport) Reset() {
	atomic.StoreUint32(&t.currentSeq, MessageDest)
	t.drainAcks()
	for len(t.responseChan) > 0 {
		<-t.responseChan
	}
}

// CurrentSequence returns the sequence the next command will carry
func (t *HostTransport) CurrentSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.currentSeq))
}

// FrameErrors returns the number of malformed frames dropped
func (t *HostTransport) FrameErrors() uint32 {
	return atomic.LoadUint32(&t.scanner.Errors)
}
