package serialport

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexstar/pkg/nexstar"
)

// fakeConn replays rx and records writes. An empty rx behaves like a read
// timeout.
type fakeConn struct {
	rx      *bytes.Buffer
	tx      bytes.Buffer
	drains  int
	closed  bool
	readErr error
}

func (c *fakeConn) Read(p []byte) (int, error) {
	if c.readErr != nil {
		return 0, c.readErr
	}
	if c.rx.Len() == 0 {
		return 0, nil
	}
	return c.rx.Read(p)
}

func (c *fakeConn) Write(p []byte) (int, error) { return c.tx.Write(p) }
func (c *fakeConn) Drain() error                { c.drains++; return nil }
func (c *fakeConn) Close() error                { c.closed = true; return nil }

func TestReadByte(t *testing.T) {
	c := &fakeConn{rx: bytes.NewBuffer([]byte{0x04, 0x15})}
	p := &Port{conn: c}

	b, err := p.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x04), b)

	b, err = p.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x15), b)

	_, err = p.ReadByte()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestReadByteError(t *testing.T) {
	errPort := errors.New("device disconnected")
	p := &Port{conn: &fakeConn{rx: &bytes.Buffer{}, readErr: errPort}}

	_, err := p.ReadByte()
	assert.ErrorIs(t, err, errPort)
}

func TestWriteAndFlush(t *testing.T) {
	c := &fakeConn{rx: &bytes.Buffer{}}
	p := &Port{conn: c}

	n, err := p.Write([]byte{'V'})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, p.Flush())
	assert.Equal(t, 1, c.drains)

	require.NoError(t, p.Close())
	assert.True(t, c.closed)
}

func TestDriverOverPort(t *testing.T) {
	c := &fakeConn{rx: bytes.NewBuffer([]byte{4, 41, '#'})}
	p := &Port{conn: c}
	mount := nexstar.New(p, p)

	v, err := mount.Version()
	require.NoError(t, err)
	assert.Equal(t, nexstar.Version{Major: 4, Minor: 41}, v)
	assert.Equal(t, []byte{'V'}, c.tx.Bytes())

	// A silent controller surfaces as a read error wrapping ErrTimeout.
	_, err = mount.Model()
	require.Error(t, err)
	assert.True(t, nexstar.IsReadError(err))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyUSB0")
	assert.Equal(t, "/dev/ttyUSB0", cfg.Device)
	assert.Equal(t, 9600, cfg.Baud)
	assert.Positive(t, cfg.ReadTimeout)
}
