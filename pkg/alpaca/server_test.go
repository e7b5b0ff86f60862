package alpaca

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

// fakeTelescope records the calls made through the HTTP API.
type fakeTelescope struct {
	connected bool
	status    TelescopeStatus
	slewTo    [2]float64
	synced    bool
	aborted   bool
	setupHits int
	err       error
}

func (f *fakeTelescope) DeviceInfo() DeviceInfo {
	return DeviceInfo{Name: "Fake", Type: DeviceTypeTelescope, Number: 0, UniqueID: "fake-id"}
}

func (f *fakeTelescope) DriverInfo() DriverInfo {
	return DriverInfo{Name: "Fake Driver", Version: "0.1", InterfaceVersion: 3}
}

func (f *fakeTelescope) GetState() []StateProperty { return f.status.ToProperties() }
func (f *fakeTelescope) Connected() bool           { return f.connected }
func (f *fakeTelescope) Connecting() bool          { return false }
func (f *fakeTelescope) Connect() error            { f.connected = true; return f.err }
func (f *fakeTelescope) Disconnect() error         { f.connected = false; return f.err }

func (f *fakeTelescope) Capabilities() TelescopeCapabilities {
	return TelescopeCapabilities{CanSetTracking: true, CanSlewAsync: true, CanSync: true}
}

func (f *fakeTelescope) Status() TelescopeStatus { return f.status }

func (f *fakeTelescope) SetTracking(tracking bool) error {
	f.status.Tracking = tracking
	return f.err
}

func (f *fakeTelescope) SetSiteLatitude(lat float64) error {
	if lat < -90 || lat > 90 {
		return InvalidValue("latitude out of range: %f", lat)
	}
	f.status.SiteLatitude = lat
	return nil
}

func (f *fakeTelescope) SetSiteLongitude(lon float64) error {
	f.status.SiteLongitude = lon
	return nil
}

func (f *fakeTelescope) SetUTCDate(t time.Time) error {
	f.status.UTCDate = t
	return nil
}

func (f *fakeTelescope) SlewToCoordinatesAsync(ra, dec float64) error {
	f.slewTo = [2]float64{ra, dec}
	return f.err
}

func (f *fakeTelescope) SyncToCoordinates(ra, dec float64) error {
	f.synced = true
	return f.err
}

func (f *fakeTelescope) AbortSlew() error {
	f.aborted = true
	return f.err
}

func (f *fakeTelescope) HandleSetup(w http.ResponseWriter, r *http.Request) {
	f.setupHits++
	w.WriteHeader(http.StatusOK)
}

func newTestServer(t *testing.T, dev Device) *httptest.Server {
	t.Helper()

	db, err := bolt.Open(filepath.Join(t.TempDir(), "alpaca.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)

	tmpl := template.Must(template.New("setup.html").Parse(
		`{{.Name}}|{{.Location}}|{{range .Devices}}{{.SetupURL}}{{end}}|{{.Success}}|{{.Error}}`))

	desc := ServerDescription{Name: "Test", Manufacturer: "Test", ManufacturerVersion: "1.0"}
	srv := httptest.NewServer(NewServer(desc, []Device{dev}, store, tmpl).AddRoutes())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string) baseResponse {
	t.Helper()

	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body baseResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func put(t *testing.T, srv *httptest.Server, path string, form url.Values) baseResponse {
	t.Helper()

	req, err := http.NewRequest(http.MethodPut, srv.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body baseResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestManagementAPI(t *testing.T) {
	srv := newTestServer(t, &fakeTelescope{})

	resp := get(t, srv, "/management/apiversions")
	assert.Equal(t, []any{1.0}, resp.Value)

	resp = get(t, srv, "/management/v1/description")
	desc := resp.Value.(map[string]any)
	assert.Equal(t, defaultConfig.Name, desc["ServerName"])
	assert.Equal(t, defaultConfig.Location, desc["Location"])

	resp = get(t, srv, "/management/v1/configureddevices")
	devices := resp.Value.([]any)
	require.Len(t, devices, 1)
	dev := devices[0].(map[string]any)
	assert.Equal(t, "Telescope", dev["DeviceType"])
	assert.Equal(t, "fake-id", dev["UniqueID"])
}

func TestTransactionIDs(t *testing.T) {
	srv := newTestServer(t, &fakeTelescope{connected: true})

	first := get(t, srv, "/api/v1/telescope/0/name?ClientTransactionID=41")
	second := get(t, srv, "/api/v1/telescope/0/name?clienttransactionid=42")
	assert.Equal(t, 41, first.ClientTransactionID)
	assert.Equal(t, 42, second.ClientTransactionID)
	assert.Greater(t, second.ServerTransactionID, first.ServerTransactionID)

	missing := get(t, srv, "/api/v1/telescope/0/name")
	assert.Equal(t, 0, missing.ClientTransactionID)

	resp, err := http.Get(srv.URL + "/api/v1/telescope/0/name?ClientTransactionID=-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConnect(t *testing.T) {
	dev := &fakeTelescope{}
	srv := newTestServer(t, dev)

	assert.Equal(t, false, get(t, srv, "/api/v1/telescope/0/connected").Value)

	resp := put(t, srv, "/api/v1/telescope/0/connected", url.Values{"Connected": {"true"}})
	assert.Zero(t, resp.ErrorNumber)
	assert.True(t, dev.connected)

	resp = put(t, srv, "/api/v1/telescope/0/disconnect", nil)
	assert.Zero(t, resp.ErrorNumber)
	assert.False(t, dev.connected)

	resp = put(t, srv, "/api/v1/telescope/0/connected", url.Values{"Connected": {"maybe"}})
	assert.Equal(t, ErrInvalidValue.Number, resp.ErrorNumber)
}

func TestTelescopeStatus(t *testing.T) {
	utc := time.Date(2025, time.June, 1, 22, 30, 0, 0, time.UTC)
	dev := &fakeTelescope{
		connected: true,
		status: TelescopeStatus{
			RightAscension: 5.5,
			Declination:    -12.25,
			Slewing:        true,
			Tracking:       true,
			SiteLatitude:   40.5,
			UTCDate:        utc,
		},
	}
	srv := newTestServer(t, dev)

	assert.Equal(t, 5.5, get(t, srv, "/api/v1/telescope/0/rightascension").Value)
	assert.Equal(t, -12.25, get(t, srv, "/api/v1/telescope/0/declination").Value)
	assert.Equal(t, true, get(t, srv, "/api/v1/telescope/0/slewing").Value)
	assert.Equal(t, true, get(t, srv, "/api/v1/telescope/0/tracking").Value)
	assert.Equal(t, 40.5, get(t, srv, "/api/v1/telescope/0/sitelatitude").Value)
	assert.Equal(t, "2025-06-01T22:30:00.0000000Z", get(t, srv, "/api/v1/telescope/0/utcdate").Value)
	assert.Equal(t, true, get(t, srv, "/api/v1/telescope/0/canslewasync").Value)
	assert.Equal(t, false, get(t, srv, "/api/v1/telescope/0/canpark").Value)

	dev.connected = false
	resp := get(t, srv, "/api/v1/telescope/0/rightascension")
	assert.Equal(t, ErrNotConnected.Number, resp.ErrorNumber)
}

func TestTelescopeCommands(t *testing.T) {
	dev := &fakeTelescope{connected: true}
	srv := newTestServer(t, dev)

	resp := put(t, srv, "/api/v1/telescope/0/slewtocoordinatesasync",
		url.Values{"RightAscension": {"10.5"}, "Declination": {"-20"}, "ClientTransactionID": {"7"}})
	assert.Zero(t, resp.ErrorNumber)
	assert.Equal(t, 7, resp.ClientTransactionID)
	assert.Equal(t, [2]float64{10.5, -20}, dev.slewTo)

	resp = put(t, srv, "/api/v1/telescope/0/synctocoordinates",
		url.Values{"RightAscension": {"1"}, "Declination": {"2"}})
	assert.Zero(t, resp.ErrorNumber)
	assert.True(t, dev.synced)

	resp = put(t, srv, "/api/v1/telescope/0/abortslew", nil)
	assert.Zero(t, resp.ErrorNumber)
	assert.True(t, dev.aborted)

	resp = put(t, srv, "/api/v1/telescope/0/tracking", url.Values{"Tracking": {"true"}})
	assert.Zero(t, resp.ErrorNumber)
	assert.True(t, dev.status.Tracking)

	resp = put(t, srv, "/api/v1/telescope/0/sitelatitude", url.Values{"SiteLatitude": {"95"}})
	assert.Equal(t, ErrInvalidValue.Number, resp.ErrorNumber)

	resp = put(t, srv, "/api/v1/telescope/0/utcdate", url.Values{"UTCDate": {"2025-01-02T03:04:05.5Z"}})
	assert.Zero(t, resp.ErrorNumber)
	assert.Equal(t, 2025, dev.status.UTCDate.Year())

	resp = put(t, srv, "/api/v1/telescope/0/slewtocoordinatesasync", url.Values{"RightAscension": {"10.5"}})
	assert.Equal(t, ErrInvalidValue.Number, resp.ErrorNumber)
}

func TestDriverErrors(t *testing.T) {
	dev := &fakeTelescope{connected: true, err: errors.New("read: serial read timeout")}
	srv := newTestServer(t, dev)

	resp := put(t, srv, "/api/v1/telescope/0/abortslew", nil)
	assert.Equal(t, driverErrorNumber, resp.ErrorNumber)
	assert.Contains(t, resp.ErrorMessage, "timeout")
}

func TestSetup(t *testing.T) {
	dev := &fakeTelescope{}
	srv := newTestServer(t, dev)

	resp, err := http.PostForm(srv.URL+"/setup", url.Values{
		"server-name":     {"Backyard"},
		"server-location": {"Madrid"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Backyard|Madrid|/setup/v1/telescope/0/setup|true|", buf.String())

	desc := get(t, srv, "/management/v1/description").Value.(map[string]any)
	assert.Equal(t, "Backyard", desc["ServerName"])

	resp, err = http.Get(srv.URL + "/setup/v1/telescope/0/setup")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 1, dev.setupHits)
}

func TestDiscoveryReply(t *testing.T) {
	dr, err := NewDiscoveryResponder("127.0.0.1", 11111, nil)
	require.NoError(t, err)

	resp, ok := dr.reply([]byte("alpacadiscovery1"))
	assert.True(t, ok)
	assert.JSONEq(t, `{"AlpacaPort": 11111}`, string(resp))

	_, ok = dr.reply([]byte("hello"))
	assert.False(t, ok)

	_, err = NewDiscoveryResponder("127.0.0.1", 0, nil)
	assert.Error(t, err)
}
