package simulator

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"nexstar/pkg/nexstar"

	log "github.com/sirupsen/logrus"
)

// ErrNoResponse is returned by ReadByte when the handset has nothing queued.
// A real controller would make the caller wait instead.
var ErrNoResponse = errors.New("simulator: no response pending")

// Error codes sent after the error ack
const (
	errAck            = '!'
	errUnknownCommand = 0x01
	errNoDevice       = 0x02
	errBadArgument    = 0x03
)

// Idle positions reported before any GOTO
const (
	defaultRaDec = "00000000,00000000"
	defaultAzAlt = "00000000,10000000"
)

// Handset simulates a NexStar hand controller at the byte level. It satisfies
// both halves of the driver's transport.
type Handset struct {
	mu     sync.Mutex
	logger log.FieldLogger

	config   Config
	clock    [8]byte
	location [8]byte
	tracking byte

	raDec   string
	azAlt   string
	target  string
	slewing bool

	injected *byte

	in  []byte       // partial command bytes
	out bytes.Buffer // queued responses
}

// NewHandset creates a handset that answers according to cfg.
func NewHandset(cfg Config, logger log.FieldLogger) *Handset {
	h := &Handset{
		logger:   logger.WithField("component", "handset"),
		config:   cfg,
		tracking: cfg.TrackingMode,
		raDec:    defaultRaDec,
		azAlt:    defaultAzAlt,
	}

	lat := nexstar.EncodeDMS(cfg.Location.Latitude)
	lon := nexstar.EncodeDMS(cfg.Location.Longitude)
	copy(h.location[:4], lat[:])
	copy(h.location[4:], lon[:])

	return h
}

// Config returns the handset state worth persisting.
func (h *Handset) Config() Config {
	h.mu.Lock()
	defer h.mu.Unlock()

	cfg := h.config
	cfg.Location = nexstar.Location{
		Latitude:  nexstar.DecodeDMS([4]byte(h.location[:4])),
		Longitude: nexstar.DecodeDMS([4]byte(h.location[4:])),
	}
	cfg.TrackingMode = h.tracking
	return cfg
}

// Slewing reports whether a simulated GOTO is running.
func (h *Handset) Slewing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.slewing
}

// CompleteGoto finishes a running GOTO at its target.
func (h *Handset) CompleteGoto() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.slewing {
		return
	}
	h.raDec = h.target
	h.slewing = false
	h.logger.Infof("GOTO complete at %s", h.raDec)
}

// InjectError makes the next command answer with an error ack followed by
// code.
func (h *Handset) InjectError(code byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.injected = &code
}

// ReadByte returns the next queued response byte.
func (h *Handset) ReadByte() (byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, err := h.out.ReadByte()
	if err != nil {
		return 0, ErrNoResponse
	}
	return b, nil
}

// Write feeds command bytes to the handset. Complete commands are answered
// immediately; partial ones wait for the rest of their bytes.
func (h *Handset) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.in = append(h.in, p...)
	for len(h.in) > 0 {
		n := commandLen(h.in[0])
		if n == 0 {
			h.logger.Warnf("Unknown command: 0x%02X", h.in[0])
			h.replyError(h.in[0], errUnknownCommand)
			h.in = h.in[1:]
			continue
		}
		if len(h.in) < n {
			break
		}
		h.handle(h.in[:n])
		h.in = h.in[n:]
	}
	return len(p), nil
}

func (h *Handset) Flush() error {
	return nil
}

// commandLen returns the full length of the command starting with code, or 0
// for unknown commands.
func commandLen(code byte) int {
	switch code {
	case 'V', 'm', 'J', 'L', 'w', 'h', 'M', 't', 'e', 'z':
		return 1
	case 'K', 'T':
		return 2
	case 0x50:
		return 8
	case 'W', 'H':
		return 9
	case 'r', 's':
		return 18
	default:
		return 0
	}
}

// payloadLen returns the response payload size for a command, excluding the
// ack.
func payloadLen(code byte) int {
	switch code {
	case 'V', 0x50:
		return 2
	case 'm', 'J', 'L', 'K', 't':
		return 1
	case 'w', 'h':
		return 8
	case 'e', 'z':
		return 17
	default:
		return 0
	}
}

func (h *Handset) handle(cmd []byte) {
	h.logger.Debugf("Command: % X", cmd)

	if h.injected != nil {
		code := *h.injected
		h.injected = nil
		h.replyError(cmd[0], code)
		return
	}

	switch cmd[0] {
	case 'V':
		h.reply(h.config.Version.Major, h.config.Version.Minor)
	case 0x50:
		h.handlePassThrough(cmd)
	case 'm':
		h.reply(h.config.Model)
	case 'J':
		h.reply(boolByte(h.config.Aligned, 0x01, 0x00))
	case 'L':
		h.reply(boolByte(h.slewing, '1', '0'))
	case 'w':
		h.reply(h.location[:]...)
	case 'W':
		copy(h.location[:], cmd[1:])
		h.reply()
	case 'h':
		h.reply(h.clock[:]...)
	case 'H':
		copy(h.clock[:], cmd[1:])
		h.reply()
	case 'K':
		h.reply(cmd[1])
	case 'M':
		h.slewing = false
		h.reply()
	case 't':
		h.reply(h.tracking)
	case 'T':
		if cmd[1] > byte(nexstar.TrackingEQSouth) {
			h.replyError(cmd[0], errBadArgument)
			return
		}
		h.tracking = cmd[1]
		h.reply()
	case 'e':
		h.reply([]byte(h.raDec)...)
	case 'z':
		h.reply([]byte(h.azAlt)...)
	case 'r':
		h.target = string(cmd[1:])
		h.slewing = true
		h.logger.Infof("GOTO started to %s", h.target)
		h.reply()
	case 's':
		h.raDec = string(cmd[1:])
		h.reply()
	}
}

func (h *Handset) handlePassThrough(cmd []byte) {
	device := nexstar.Device(cmd[2])
	if cmd[3] != 0xFE {
		h.replyError(cmd[0], errUnknownCommand)
		return
	}
	if !h.config.hasDevice(device) {
		h.logger.Debugf("%s not present", device)
		h.replyError(cmd[0], errNoDevice)
		return
	}
	h.reply(h.config.DeviceVersion.Major, h.config.DeviceVersion.Minor)
}

func (h *Handset) reply(payload ...byte) {
	h.out.Write(payload)
	h.out.WriteByte('#')
}

// replyError pads the payload the command would have carried, then sends the
// error ack and code.
func (h *Handset) replyError(cmd byte, code byte) {
	h.out.Write(make([]byte, payloadLen(cmd)))
	h.out.WriteByte(errAck)
	h.out.WriteByte(code)
}

func boolByte(v bool, t, f byte) byte {
	if v {
		return t
	}
	return f
}

func (h *Handset) String() string {
	return fmt.Sprintf("simulated %s hand controller", nexstar.Model{ID: h.config.Model})
}
