// Package nexstar implements the serial command protocol spoken by Celestron
// NexStar hand controllers.
//
// Each operation writes one command frame and blocks until the full response,
// including the trailing '#' acknowledgment, has been read. The driver does no
// retries and has no timeouts: those belong to the transport.
//
// Errors come in three kinds:
//
//	*ReadError     the transport failed while reading
//	*WriteError    the transport failed while writing or flushing
//	*ResponseError the ack byte was not '#' (matches ErrUnexpectedResponse)
//
// Example:
//
//	port, _ := serialport.Open(serialport.DefaultConfig("/dev/ttyUSB0"))
//	mount := nexstar.New(port, port)
//	v, err := mount.DeviceVersion(nexstar.GPSUnit)
//	if nexstar.IsUnexpectedResponse(err) {
//	    fmt.Println("GPS unit not present")
//	}
package nexstar
