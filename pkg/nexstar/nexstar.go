package nexstar

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
)

// Writer is the write half of the transport. Every command is written in
// full and then flushed.
type Writer interface {
	io.Writer
	Flush() error
}

const ack = '#'

// Single character commands
const (
	cmdVersion         = 'V'
	cmdModel           = 'm'
	cmdAlignment       = 'J'
	cmdGotoInProgress  = 'L'
	cmdGetLocation     = 'w'
	cmdSetLocation     = 'W'
	cmdGetTime         = 'h'
	cmdSetTime         = 'H'
	cmdEcho            = 'K'
	cmdCancelGoto      = 'M'
	cmdGetTrackingMode = 't'
	cmdSetTrackingMode = 'T'
	cmdGetRaDec        = 'e'
	cmdGetAzAlt        = 'z'
	cmdGotoRaDec       = 'r'
	cmdSyncRaDec       = 's'
)

// Sub device pass-through frame
const (
	cmdPassThrough      = 0x50
	passThroughSource   = 0x01
	getDeviceVersion    = 0xFE
	deviceVersionLength = 0x02
)

// NexStar talks to a Celestron hand controller over a serial link.
//
// Every method is a blocking round trip. NexStar is not safe for concurrent
// use: the protocol has no request identifiers, so callers must serialize
// access.
type NexStar struct {
	rx     io.ByteReader
	tx     Writer
	logger log.FieldLogger
}

// Option configures a NexStar.
type Option func(*NexStar)

// WithLogger sets a logger used to trace frames at debug level.
func WithLogger(logger log.FieldLogger) Option {
	return func(n *NexStar) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// New creates a driver that owns rx and tx until Free is called.
func New(rx io.ByteReader, tx Writer, opts ...Option) *NexStar {
	discard := log.New()
	discard.SetOutput(io.Discard)

	n := &NexStar{
		rx:     rx,
		tx:     tx,
		logger: discard,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Free releases the transport halves back to the caller.
func (n *NexStar) Free() (io.ByteReader, Writer) {
	rx, tx := n.rx, n.tx
	n.rx, n.tx = nil, nil
	return rx, tx
}

// Version gets the hand controller firmware version.
func (n *NexStar) Version() (Version, error) {
	if err := n.writeAll([]byte{cmdVersion}); err != nil {
		return Version{}, err
	}
	return n.readVersion(cmdVersion)
}

// DeviceVersion gets the firmware version of a sub device. Devices that are
// not present on the bus answer with an error ack.
func (n *NexStar) DeviceVersion(device Device) (Version, error) {
	cmd := []byte{
		cmdPassThrough,
		passThroughSource,
		byte(device),
		getDeviceVersion,
		0x00,
		0x00,
		0x00,
		deviceVersionLength,
	}
	if err := n.writeAll(cmd); err != nil {
		return Version{}, err
	}
	return n.readVersion(cmdPassThrough)
}

// Model gets the model of the telescope mount. Unrecognized ids are returned
// as Unknown models.
func (n *NexStar) Model() (Model, error) {
	if err := n.writeAll([]byte{cmdModel}); err != nil {
		return Model{}, err
	}

	id, err := n.read()
	if err != nil {
		return Model{}, err
	}
	if err := n.checkAck(cmdModel); err != nil {
		return Model{}, err
	}
	return Model{ID: id}, nil
}

// IsAlignmentComplete reports whether the mount has been aligned.
func (n *NexStar) IsAlignmentComplete() (bool, error) {
	b, err := n.query(cmdAlignment)
	if err != nil {
		return false, err
	}
	return b == 0x01, nil
}

// IsGotoInProgress reports whether a GOTO slew is running.
func (n *NexStar) IsGotoInProgress() (bool, error) {
	b, err := n.query(cmdGotoInProgress)
	if err != nil {
		return false, err
	}
	return b == '1', nil
}

// Location gets the observing site stored in the hand controller.
func (n *NexStar) Location() (Location, error) {
	if err := n.writeAll([]byte{cmdGetLocation}); err != nil {
		return Location{}, err
	}

	var buf [8]byte
	if err := n.readMultiple(buf[:]); err != nil {
		return Location{}, err
	}
	if err := n.checkAck(cmdGetLocation); err != nil {
		return Location{}, err
	}
	return decodeLocation(buf), nil
}

// SetLocation stores the observing site. The wire format has one arc second
// resolution.
func (n *NexStar) SetLocation(loc Location) error {
	payload := encodeLocation(loc)
	return n.command(cmdSetLocation, payload[:]...)
}

// DateTime gets the hand controller's clock.
func (n *NexStar) DateTime() (DateTime, error) {
	if err := n.writeAll([]byte{cmdGetTime}); err != nil {
		return DateTime{}, err
	}

	var buf [8]byte
	if err := n.readMultiple(buf[:]); err != nil {
		return DateTime{}, err
	}
	if err := n.checkAck(cmdGetTime); err != nil {
		return DateTime{}, err
	}
	return dateTimeFromBytes(buf), nil
}

// SetDateTime sets the hand controller's clock.
func (n *NexStar) SetDateTime(dt DateTime) error {
	payload := dt.bytes()
	return n.command(cmdSetTime, payload[:]...)
}

// Echo sends b and returns what the hand controller echoed back. Useful to
// check the link.
func (n *NexStar) Echo(b byte) (byte, error) {
	if err := n.writeAll([]byte{cmdEcho, b}); err != nil {
		return 0, err
	}
	echo, err := n.read()
	if err != nil {
		return 0, err
	}
	if err := n.checkAck(cmdEcho); err != nil {
		return 0, err
	}
	return echo, nil
}

// CancelGoto aborts a running GOTO slew.
func (n *NexStar) CancelGoto() error {
	return n.command(cmdCancelGoto)
}

// TrackingMode gets the current tracking mode.
func (n *NexStar) TrackingMode() (TrackingMode, error) {
	b, err := n.query(cmdGetTrackingMode)
	if err != nil {
		return 0, err
	}
	return TrackingMode(b), nil
}

// SetTrackingMode sets the tracking mode.
func (n *NexStar) SetTrackingMode(mode TrackingMode) error {
	return n.command(cmdSetTrackingMode, byte(mode))
}

// RaDec gets the precise right ascension (hours) and declination (degrees).
func (n *NexStar) RaDec() (Position, error) {
	buf, err := n.readPosition(cmdGetRaDec)
	if err != nil {
		return Position{}, err
	}
	pos, err := decodeRaDec(buf)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return pos, nil
}

// AzAlt gets the precise azimuth and altitude in degrees.
func (n *NexStar) AzAlt() (Position, error) {
	buf, err := n.readPosition(cmdGetAzAlt)
	if err != nil {
		return Position{}, err
	}
	pos, err := decodeAzAlt(buf)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return pos, nil
}

// GotoRaDec starts a GOTO slew to right ascension (hours) and declination
// (degrees). Use IsGotoInProgress to follow it.
func (n *NexStar) GotoRaDec(pos Position) error {
	return n.command(cmdGotoRaDec, encodeRaDec(pos)...)
}

// SyncRaDec tells the mount it is pointing at pos.
func (n *NexStar) SyncRaDec(pos Position) error {
	return n.command(cmdSyncRaDec, encodeRaDec(pos)...)
}

// command sends code followed by args and expects an ack-only response.
func (n *NexStar) command(code byte, args ...byte) error {
	if err := n.writeAll(append([]byte{code}, args...)); err != nil {
		return err
	}
	return n.checkAck(code)
}

// query sends a single character command answered by one byte plus ack.
func (n *NexStar) query(code byte) (byte, error) {
	if err := n.writeAll([]byte{code}); err != nil {
		return 0, err
	}
	b, err := n.read()
	if err != nil {
		return 0, err
	}
	if err := n.checkAck(code); err != nil {
		return 0, err
	}
	return b, nil
}

func (n *NexStar) readPosition(code byte) ([]byte, error) {
	if err := n.writeAll([]byte{code}); err != nil {
		return nil, err
	}
	buf := make([]byte, positionLen)
	if err := n.readMultiple(buf); err != nil {
		return nil, err
	}
	if err := n.checkAck(code); err != nil {
		return nil, err
	}
	return buf, nil
}

func (n *NexStar) readVersion(code byte) (Version, error) {
	major, err := n.read()
	if err != nil {
		return Version{}, err
	}
	minor, err := n.read()
	if err != nil {
		return Version{}, err
	}
	if err := n.checkAck(code); err != nil {
		return Version{}, err
	}
	return Version{Major: major, Minor: minor}, nil
}

// checkAck reads the trailing ack byte. On anything other than '#' the error
// code that follows is drained so the next command starts on a clean stream.
func (n *NexStar) checkAck(code byte) error {
	b, err := n.read()
	if err != nil {
		return err
	}
	if b == ack {
		return nil
	}

	errCode, err := n.read()
	if err != nil {
		return err
	}
	n.logger.Debugf("Command '%c' failed: ack 0x%02X, code 0x%02X", code, b, errCode)
	return &ResponseError{Command: code, Ack: b, Code: errCode}
}

func (n *NexStar) readMultiple(buf []byte) error {
	for i := range buf {
		b, err := n.read()
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

func (n *NexStar) read() (byte, error) {
	b, err := n.rx.ReadByte()
	if err != nil {
		return 0, &ReadError{Err: err}
	}
	return b, nil
}

func (n *NexStar) writeAll(buf []byte) error {
	n.logger.Debugf("Sending % X", buf)
	if _, err := n.tx.Write(buf); err != nil {
		return &WriteError{Err: err}
	}
	if err := n.tx.Flush(); err != nil {
		return &WriteError{Err: err}
	}
	return nil
}
