package nexstar

import (
	"fmt"
	"time"
)

// Version is a firmware version as reported by the hand controller or one of
// its sub devices.
type Version struct {
	Major uint8
	Minor uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Device is an addressable sub device on the mount's internal bus.
type Device uint8

const (
	MainBoard      Device = 0x01 // Main / interconnection board
	HandController Device = 0x04 // Hand controller (HC)
	AzmRaMotor     Device = 0x10 // AZM/RA motor
	AltDecMotor    Device = 0x11 // ALT/DEC motor
	GPSUnit        Device = 0xB0 // GPS unit
	RTC            Device = 0xB2 // RTC (CGE only)
)

// Devices lists every known sub device.
var Devices = []Device{MainBoard, HandController, AzmRaMotor, AltDecMotor, GPSUnit, RTC}

func (d Device) String() string {
	switch d {
	case MainBoard:
		return "Main Board"
	case HandController:
		return "Hand Controller"
	case AzmRaMotor:
		return "AZM/RA Motor"
	case AltDecMotor:
		return "ALT/DEC Motor"
	case GPSUnit:
		return "GPS Unit"
	case RTC:
		return "RTC"
	default:
		return fmt.Sprintf("Device(0x%02X)", uint8(d))
	}
}

// Model is the telescope mount hardware family.
type Model struct {
	ID uint8
}

var (
	GPSSeries  = Model{0x01}
	ISeries    = Model{0x03}
	ISeriesSE  = Model{0x04}
	CGE        = Model{0x05}
	AdvancedGT = Model{0x06}
	SLT        = Model{0x07}
	CPC        = Model{0x09}
	GT         = Model{0x0A}
	Se4_5      = Model{0x0B}
	Se6_8      = Model{0x0C}
)

var modelNames = map[uint8]string{
	0x01: "GPS Series",
	0x03: "i-Series",
	0x04: "i-Series SE",
	0x05: "CGE",
	0x06: "Advanced GT",
	0x07: "SLT",
	0x09: "CPC",
	0x0A: "GT",
	0x0B: "4/5 SE",
	0x0C: "6/8 SE",
}

// Unknown returns the model used for an id the driver does not recognize.
func Unknown(id uint8) Model {
	return Model{ID: id}
}

// Known reports whether the model id is one of the documented families.
func (m Model) Known() bool {
	_, ok := modelNames[m.ID]
	return ok
}

func (m Model) String() string {
	if name, ok := modelNames[m.ID]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02X)", m.ID)
}

// Location is a geographic position in signed decimal degrees.
// North and east are positive.
type Location struct {
	Latitude  float64
	Longitude float64
}

// DateTime mirrors the hand controller's time registers byte for byte.
// Year is an offset from 2000 and Zone is the UTC offset in hours.
type DateTime struct {
	Hour   uint8
	Minute uint8
	Second uint8
	Month  uint8
	Day    uint8
	Year   uint8
	Zone   int8
	DST    uint8 // 1 when daylight saving time is in effect
}

// Time converts the registers into a time.Time in the controller's zone.
// The DST flag adds one hour to the zone offset.
func (dt DateTime) Time() time.Time {
	offset := int(dt.Zone) * 3600
	if dt.DST != 0 {
		offset += 3600
	}
	loc := time.FixedZone("", offset)
	return time.Date(2000+int(dt.Year), time.Month(dt.Month), int(dt.Day),
		int(dt.Hour), int(dt.Minute), int(dt.Second), 0, loc)
}

// DateTimeFromTime builds the registers for t, keeping t's UTC offset as the
// zone. Sub-hour offsets are truncated.
func DateTimeFromTime(t time.Time) DateTime {
	_, offset := t.Zone()
	return DateTime{
		Hour:   uint8(t.Hour()),
		Minute: uint8(t.Minute()),
		Second: uint8(t.Second()),
		Month:  uint8(t.Month()),
		Day:    uint8(t.Day()),
		Year:   uint8(t.Year() - 2000),
		Zone:   int8(offset / 3600),
	}
}

func (dt DateTime) bytes() [8]byte {
	return [8]byte{dt.Hour, dt.Minute, dt.Second, dt.Month, dt.Day, dt.Year, byte(dt.Zone), dt.DST}
}

func dateTimeFromBytes(b [8]byte) DateTime {
	return DateTime{
		Hour:   b[0],
		Minute: b[1],
		Second: b[2],
		Month:  b[3],
		Day:    b[4],
		Year:   b[5],
		Zone:   int8(b[6]),
		DST:    b[7],
	}
}

// TrackingMode is the mount's sidereal tracking mode.
type TrackingMode uint8

const (
	TrackingOff TrackingMode = iota
	TrackingAltAz
	TrackingEQNorth
	TrackingEQSouth
)

func (m TrackingMode) String() string {
	switch m {
	case TrackingOff:
		return "Off"
	case TrackingAltAz:
		return "Alt-Az"
	case TrackingEQNorth:
		return "EQ North"
	case TrackingEQSouth:
		return "EQ South"
	default:
		return fmt.Sprintf("TrackingMode(%d)", uint8(m))
	}
}
