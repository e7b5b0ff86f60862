package celestron

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"nexstar/pkg/alpaca"
	"nexstar/pkg/drivers/simulator"
	"nexstar/pkg/nexstar"
	"nexstar/pkg/serialport"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	telescopeUID  = "6f3a2c9e-5d41-4b7a-9c0e-2b8d1e7f4a63"
	deviceName    = "Celestron NexStar"
	driverName    = "NexStar Telescope Driver"
	driverVersion = "1.0"
)

type connState int32

const (
	connStateDisconnected connState = iota
	connStateConnecting
	connStateConnected
)

// Option overrides a stored configuration value, e.g. from the command line.
type Option func(*Config)

// WithSerialDevice overrides the configured serial device.
func WithSerialDevice(device string) Option {
	return func(c *Config) {
		if device != "" {
			c.Device = device
		}
	}
}

// WithBaud overrides the configured baud rate.
func WithBaud(baud int) Option {
	return func(c *Config) {
		if baud > 0 {
			c.Baud = baud
		}
	}
}

// WithSimulation forces the simulated hand controller.
func WithSimulation() Option {
	return func(c *Config) {
		c.Simulate = true
	}
}

type handsetStore interface {
	GetConfig() (simulator.Config, error)
	SetConfig(simulator.Config) error
}

// Driver exposes a NexStar mount as an Alpaca telescope.
type Driver struct {
	number     int
	store      *store
	simStore   handsetStore
	newHandset func(simulator.Config, log.FieldLogger) *simulator.Handset
	tmpl       *template.Template
	overrides  []Option
	state      atomic.Int32
	logger     log.FieldLogger

	// mu serializes every exchange with the hand controller.
	mu      sync.Mutex
	mount   *nexstar.NexStar
	port    io.Closer          // nil when simulated
	handset *simulator.Handset // nil when using a serial port

	statusMu     sync.RWMutex
	status       alpaca.TelescopeStatus
	aligned      bool
	trackingMode nexstar.TrackingMode // mode restored when tracking is switched on
	zone         int8
	dst          uint8
	clockOffset  time.Duration // mount clock minus host clock

	// The MQTT client and the poll loop are created when the driver is connected
	client mqtt.Client
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDriver(number int, db *bolt.DB, tmpl *template.Template, logger log.FieldLogger, opts ...Option) (*Driver, error) {
	store, err := NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %v", err)
	}

	simStore, err := simulator.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create simulator store: %v", err)
	}

	driver := Driver{
		number:       number,
		store:        store,
		simStore:     simStore,
		newHandset:   simulator.NewHandset,
		tmpl:         tmpl,
		overrides:    opts,
		logger:       logger,
		trackingMode: nexstar.TrackingAltAz,
	}

	return &driver, nil
}

func (d *Driver) getState() connState {
	return connState(d.state.Load())
}

func (d *Driver) setState(s connState) {
	d.state.Store(int32(s))
}

func (d *Driver) config() (Config, error) {
	cfg, err := d.store.GetConfig()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get telescope config: %v", err)
	}
	for _, opt := range d.overrides {
		opt(&cfg)
	}
	return cfg, nil
}

func (d *Driver) Close() {
	d.logger.Info("Closing NexStar driver")

	if err := d.Disconnect(); err != nil {
		d.logger.Errorf("failed to disconnect: %v", err)
	}
}

func (d *Driver) Connect() error {
	if !d.state.CompareAndSwap(int32(connStateDisconnected), int32(connStateConnecting)) {
		return nil
	}

	cfg, err := d.config()
	if err != nil {
		d.setState(connStateDisconnected)
		return err
	}

	d.mu.Lock()
	err = d.openMount(cfg)
	if err == nil {
		err = d.identify()
	}
	if err != nil {
		d.closeMount()
	}
	d.mu.Unlock()

	if err != nil {
		d.setState(connStateDisconnected)
		return fmt.Errorf("failed to connect to mount: %w", err)
	}

	var pub publisher
	if cfg.Host != "" {
		client, err := createMQTTClient(cfg.MQTTConfig)
		if err != nil {
			d.logger.Warnf("Telemetry disabled: %v", err)
		} else {
			d.client = client
			pub = client
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(ctx, cfg.pollInterval(), pub, cfg.TopicRoot+"/telemetry")

	d.setState(connStateConnected)
	return nil
}

// openMount opens the transport described by cfg and wraps it in a driver.
func (d *Driver) openMount(cfg Config) error {
	opts := []nexstar.Option{nexstar.WithLogger(d.logger.WithField("component", "nexstar"))}

	if cfg.Simulate {
		simCfg, err := d.simStore.GetConfig()
		if err != nil {
			return fmt.Errorf("failed to get simulator config: %v", err)
		}
		d.handset = d.newHandset(simCfg, d.logger)
		d.mount = nexstar.New(d.handset, d.handset, opts...)

		// The simulated clock starts at the host's time.
		if err := d.mount.SetDateTime(nexstar.DateTimeFromTime(time.Now())); err != nil {
			return err
		}
		d.logger.Infof("Using %s", d.handset)
		return nil
	}

	port, err := serialport.Open(cfg.serialConfig())
	if err != nil {
		return err
	}
	d.port = port
	d.mount = nexstar.New(port, port, opts...)
	d.logger.Infof("Opened serial port %s", port)
	return nil
}

func (d *Driver) closeMount() {
	if d.mount != nil {
		d.mount.Free()
		d.mount = nil
	}
	if d.port != nil {
		if err := d.port.Close(); err != nil {
			d.logger.Errorf("failed to close serial port: %v", err)
		}
		d.port = nil
	}
	if d.handset != nil {
		if err := d.simStore.SetConfig(d.handset.Config()); err != nil {
			d.logger.Errorf("failed to save simulator state: %v", err)
		}
		d.handset = nil
	}
}

// identify checks the link and reads the mount's identity, site and clock.
// Must be called with d.mu held.
func (d *Driver) identify() error {
	if b, err := d.mount.Echo('x'); err != nil {
		return fmt.Errorf("echo: %w", err)
	} else if b != 'x' {
		return fmt.Errorf("echo: got 0x%02X", b)
	}

	version, err := d.mount.Version()
	if err != nil {
		return fmt.Errorf("version: %w", err)
	}
	model, err := d.mount.Model()
	if err != nil {
		return fmt.Errorf("model: %w", err)
	}
	d.logger.Infof("Connected to %s mount, hand controller firmware %s", model, version)

	for _, dev := range nexstar.Devices {
		v, err := d.mount.DeviceVersion(dev)
		switch {
		case nexstar.IsUnexpectedResponse(err):
			d.logger.Debugf("%s not present", dev)
		case err != nil:
			return fmt.Errorf("%s version: %w", dev, err)
		default:
			d.logger.Debugf("%s version: %s", dev, v)
		}
	}

	aligned, err := d.mount.IsAlignmentComplete()
	if err != nil {
		return fmt.Errorf("alignment: %w", err)
	}
	if !aligned {
		d.logger.Warn("Mount is not aligned")
	}

	loc, err := d.mount.Location()
	if err != nil {
		return fmt.Errorf("location: %w", err)
	}
	dt, err := d.mount.DateTime()
	if err != nil {
		return fmt.Errorf("date/time: %w", err)
	}

	d.statusMu.Lock()
	d.aligned = aligned
	d.status.SiteLatitude = loc.Latitude
	d.status.SiteLongitude = loc.Longitude
	d.zone = dt.Zone
	d.dst = dt.DST
	d.clockOffset = time.Until(dt.Time())
	d.statusMu.Unlock()

	return d.poll()
}

// poll refreshes the cached position and motion state. Must be called with
// d.mu held.
func (d *Driver) poll() error {
	if d.mount == nil {
		return alpaca.ErrNotConnected
	}

	radec, err := d.mount.RaDec()
	if err != nil {
		return fmt.Errorf("ra/dec: %w", err)
	}
	azalt, err := d.mount.AzAlt()
	if err != nil {
		return fmt.Errorf("az/alt: %w", err)
	}
	slewing, err := d.mount.IsGotoInProgress()
	if err != nil {
		return fmt.Errorf("goto status: %w", err)
	}
	mode, err := d.mount.TrackingMode()
	if err != nil {
		return fmt.Errorf("tracking mode: %w", err)
	}

	d.statusMu.Lock()
	d.status.RightAscension = radec.Axis1
	d.status.Declination = radec.Axis2
	d.status.Azimuth = azalt.Axis1
	d.status.Altitude = azalt.Axis2
	d.status.Slewing = slewing
	d.status.Tracking = mode != nexstar.TrackingOff
	d.status.AlignmentMode = alignmentMode(mode)
	if mode != nexstar.TrackingOff {
		d.trackingMode = mode
	}
	d.statusMu.Unlock()

	// A simulated slew reaches its target one poll after it started.
	if slewing && d.handset != nil {
		d.handset.CompleteGoto()
	}
	return nil
}

func alignmentMode(mode nexstar.TrackingMode) alpaca.AlignmentMode {
	switch mode {
	case nexstar.TrackingEQNorth, nexstar.TrackingEQSouth:
		return alpaca.AlignmentGermanPolar
	default:
		return alpaca.AlignmentAltAz
	}
}

func (d *Driver) Disconnect() error {
	if d.getState() != connStateConnected {
		return nil
	}

	if d.cancel != nil {
		d.cancel()
		<-d.done
		d.cancel = nil
	}

	d.mu.Lock()
	d.closeMount()
	d.mu.Unlock()

	if d.client != nil {
		d.client.Disconnect(100)
		d.client = nil
	}

	d.setState(connStateDisconnected)
	d.logger.Info("Disconnected from mount")
	return nil
}

func (d *Driver) Connecting() bool {
	return d.getState() == connStateConnecting
}

func (d *Driver) Connected() bool {
	return d.getState() == connStateConnected
}

func (d *Driver) GetState() []alpaca.StateProperty {
	props := []alpaca.StateProperty{
		{
			Name:  "TimeStamp",
			Value: time.Now().Format(time.RFC3339),
		},
	}

	if d.Connected() {
		props = append(props, d.Status().ToProperties()...)
	}

	return props
}

func (d *Driver) Status() alpaca.TelescopeStatus {
	d.statusMu.RLock()
	defer d.statusMu.RUnlock()

	status := d.status
	status.UTCDate = time.Now().Add(d.clockOffset)
	return status
}

func (d *Driver) Capabilities() alpaca.TelescopeCapabilities {
	return alpaca.TelescopeCapabilities{
		CanFindHome:    false,
		CanPark:        false,
		CanSetTracking: true,
		CanSlew:        false,
		CanSlewAsync:   true,
		CanSync:        true,
		CanUnpark:      false,
	}
}

func (d *Driver) DeviceInfo() alpaca.DeviceInfo {
	return alpaca.DeviceInfo{
		Name:        deviceName,
		Description: "Celestron NexStar hand controller over serial",
		Type:        alpaca.DeviceTypeTelescope,
		Number:      d.number,
		UniqueID:    telescopeUID,
	}
}

func (d *Driver) DriverInfo() alpaca.DriverInfo {
	return alpaca.DriverInfo{
		Name:             driverName,
		Version:          driverVersion,
		InterfaceVersion: 4,
	}
}

// withMount runs fn with exclusive access to the hand controller.
func (d *Driver) withMount(fn func(m *nexstar.NexStar) error) error {
	if d.getState() != connStateConnected {
		return alpaca.ErrNotConnected
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mount == nil {
		return alpaca.ErrNotConnected
	}
	return fn(d.mount)
}

func (d *Driver) SetTracking(tracking bool) error {
	d.statusMu.RLock()
	mode := d.trackingMode
	d.statusMu.RUnlock()
	if !tracking {
		mode = nexstar.TrackingOff
	}

	err := d.withMount(func(m *nexstar.NexStar) error {
		return m.SetTrackingMode(mode)
	})
	if err != nil {
		return fmt.Errorf("failed to set tracking mode %s: %w", mode, err)
	}

	d.logger.Infof("Tracking: %s", mode)
	d.statusMu.Lock()
	d.status.Tracking = tracking
	d.statusMu.Unlock()
	return nil
}

func (d *Driver) SetSiteLatitude(lat float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return alpaca.InvalidValue("latitude out of range: %f", lat)
	}

	d.statusMu.RLock()
	loc := nexstar.Location{Latitude: lat, Longitude: d.status.SiteLongitude}
	d.statusMu.RUnlock()

	return d.setLocation(loc)
}

func (d *Driver) SetSiteLongitude(lon float64) error {
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return alpaca.InvalidValue("longitude out of range: %f", lon)
	}

	d.statusMu.RLock()
	loc := nexstar.Location{Latitude: d.status.SiteLatitude, Longitude: lon}
	d.statusMu.RUnlock()

	return d.setLocation(loc)
}

func (d *Driver) setLocation(loc nexstar.Location) error {
	err := d.withMount(func(m *nexstar.NexStar) error {
		return m.SetLocation(loc)
	})
	if err != nil {
		return fmt.Errorf("failed to set location: %w", err)
	}

	d.logger.Infof("Site location: %.5f, %.5f", loc.Latitude, loc.Longitude)

	// Report what the mount stores, rounded to one arc second.
	d.statusMu.Lock()
	d.status.SiteLatitude = nexstar.DecodeDMS(nexstar.EncodeDMS(loc.Latitude))
	d.status.SiteLongitude = nexstar.DecodeDMS(nexstar.EncodeDMS(loc.Longitude))
	d.statusMu.Unlock()
	return nil
}

// The hand controller stores the year as an offset from 2000 in one byte.
// One year of margin keeps the local date in range whatever the zone.
const (
	minYear = 2001
	maxYear = 2254
)

// SetUTCDate sets the mount clock, keeping the time zone configured in the
// hand controller.
func (d *Driver) SetUTCDate(t time.Time) error {
	if y := t.UTC().Year(); y < minYear || y > maxYear {
		return alpaca.InvalidValue("date out of range: %s", t.Format(time.RFC3339))
	}

	d.statusMu.RLock()
	zone, dst := d.zone, d.dst
	d.statusMu.RUnlock()

	offset := int(zone) * 3600
	if dst != 0 {
		offset += 3600
	}
	dt := nexstar.DateTimeFromTime(t.In(time.FixedZone("", offset)))
	dt.Zone = zone
	dt.DST = dst

	err := d.withMount(func(m *nexstar.NexStar) error {
		return m.SetDateTime(dt)
	})
	if err != nil {
		return fmt.Errorf("failed to set date/time: %w", err)
	}

	d.statusMu.Lock()
	d.clockOffset = time.Until(t)
	d.statusMu.Unlock()
	return nil
}

func validateCoordinates(ra, dec float64) error {
	if math.IsNaN(ra) || ra < 0 || ra >= 24 {
		return alpaca.InvalidValue("right ascension out of range: %f", ra)
	}
	if math.IsNaN(dec) || dec < -90 || dec > 90 {
		return alpaca.InvalidValue("declination out of range: %f", dec)
	}
	return nil
}

func (d *Driver) SlewToCoordinatesAsync(ra, dec float64) error {
	if err := validateCoordinates(ra, dec); err != nil {
		return err
	}

	d.statusMu.RLock()
	tracking := d.status.Tracking
	d.statusMu.RUnlock()
	if d.Connected() && !tracking {
		return &alpaca.Error{Number: alpaca.ErrInvalidOperation.Number, Message: "cannot slew while tracking is off"}
	}

	err := d.withMount(func(m *nexstar.NexStar) error {
		return m.GotoRaDec(nexstar.Position{Axis1: ra, Axis2: dec})
	})
	if err != nil {
		return fmt.Errorf("failed to start slew: %w", err)
	}

	d.logger.Infof("Slewing to RA %.4fh, Dec %.4f°", ra, dec)
	d.statusMu.Lock()
	d.status.Slewing = true
	d.statusMu.Unlock()
	return nil
}

func (d *Driver) SyncToCoordinates(ra, dec float64) error {
	if err := validateCoordinates(ra, dec); err != nil {
		return err
	}

	err := d.withMount(func(m *nexstar.NexStar) error {
		return m.SyncRaDec(nexstar.Position{Axis1: ra, Axis2: dec})
	})
	if err != nil {
		return fmt.Errorf("failed to sync: %w", err)
	}

	d.statusMu.Lock()
	d.status.RightAscension = ra
	d.status.Declination = dec
	d.statusMu.Unlock()
	return nil
}

func (d *Driver) AbortSlew() error {
	err := d.withMount(func(m *nexstar.NexStar) error {
		return m.CancelGoto()
	})
	if err != nil {
		return fmt.Errorf("failed to abort slew: %w", err)
	}

	d.statusMu.Lock()
	d.status.Slewing = false
	d.statusMu.Unlock()
	return nil
}

func (d *Driver) HandleSetup(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := d.store.GetConfig()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		d.renderSetupForm(w, cfg, false, "")

	case http.MethodPost:
		cfg, err := parseSetupForm(r)
		if err != nil {
			d.renderSetupForm(w, cfg, false, err.Error())
			return
		}

		d.logger.Infof("Setting telescope config: device=%s baud=%d simulate=%v mqtt=%s",
			cfg.Device, cfg.Baud, cfg.Simulate, cfg.Host)
		if err := d.store.SetConfig(cfg); err != nil {
			d.renderSetupForm(w, cfg, false, err.Error())
			return
		}

		d.renderSetupForm(w, cfg, true, "")

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (d *Driver) renderSetupForm(w http.ResponseWriter, cfg Config, success bool, err string) {
	ports, _ := serialport.List()

	data := struct {
		Config
		Ports   []string
		Success bool
		Error   string
	}{cfg, ports, success, err}

	if err := d.tmpl.ExecuteTemplate(w, "celestron_setup.html", data); err != nil {
		http.Error(w, "Error rendering template", http.StatusInternalServerError)
		d.logger.Errorf("Error rendering template: %v", err)
	}
}

func parseSetupForm(r *http.Request) (Config, error) {
	if err := r.ParseForm(); err != nil {
		return Config{}, fmt.Errorf("error parsing form: %v", err)
	}

	cfg := defaultConfig
	cfg.Device = r.FormValue("device")
	cfg.Simulate = r.FormValue("simulate") == "true"
	cfg.Host = r.FormValue("mqtt-host")
	cfg.Username = r.FormValue("mqtt-username")
	cfg.Password = r.FormValue("mqtt-password")
	cfg.TopicRoot = r.FormValue("mqtt-topic-root")

	var err error
	if cfg.Baud, err = getFormInt(r, "baud"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = getFormInt(r, "read-timeout"); err != nil {
		return cfg, err
	}
	if cfg.PollInterval, err = getFormInt(r, "poll-interval"); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func getFormInt(r *http.Request, key string) (int, error) {
	value := r.FormValue(key)
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", key, err)
	}
	return intValue, nil
}
