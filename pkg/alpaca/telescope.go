package alpaca

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

type TelescopeCapabilities struct {
	CanFindHome    bool `json:"CanFindHome"`
	CanPark        bool `json:"CanPark"`
	CanSetTracking bool `json:"CanSetTracking"`
	CanSlew        bool `json:"CanSlew"`
	CanSlewAsync   bool `json:"CanSlewAsync"`
	CanSync        bool `json:"CanSync"`
	CanUnpark      bool `json:"CanUnpark"`
}

type AlignmentMode int

const (
	AlignmentAltAz AlignmentMode = iota
	AlignmentPolar
	AlignmentGermanPolar
)

type TelescopeStatus struct {
	RightAscension float64       `json:"RightAscension"` // hours
	Declination    float64       `json:"Declination"`    // degrees
	Azimuth        float64       `json:"Azimuth"`        // degrees
	Altitude       float64       `json:"Altitude"`       // degrees
	AtHome         bool          `json:"AtHome"`
	AtPark         bool          `json:"AtPark"`
	Slewing        bool          `json:"Slewing"`
	Tracking       bool          `json:"Tracking"`
	AlignmentMode  AlignmentMode `json:"AlignmentMode"`
	SiteLatitude   float64       `json:"SiteLatitude"`
	SiteLongitude  float64       `json:"SiteLongitude"`
	UTCDate        time.Time     `json:"UTCDate"`
}

func (ts TelescopeStatus) ToProperties() []StateProperty {
	return []StateProperty{
		{"Altitude", ts.Altitude},
		{"AtHome", ts.AtHome},
		{"AtPark", ts.AtPark},
		{"Azimuth", ts.Azimuth},
		{"Declination", ts.Declination},
		{"IsPulseGuiding", false},
		{"RightAscension", ts.RightAscension},
		{"SideOfPier", -1},
		{"SiderealTime", 0.0},
		{"Slewing", ts.Slewing},
		{"Tracking", ts.Tracking},
		{"UTCDate", formatUTCDate(ts.UTCDate)},
	}
}

type Telescope interface {
	Device

	// Telescope specific methods
	Capabilities() TelescopeCapabilities
	Status() TelescopeStatus

	SetTracking(bool) error
	SetSiteLatitude(float64) error
	SetSiteLongitude(float64) error
	SetUTCDate(time.Time) error

	SlewToCoordinatesAsync(ra, dec float64) error
	SyncToCoordinates(ra, dec float64) error
	AbortSlew() error
}

type TelescopeHandler struct {
	DeviceHandler
	dev Telescope
}

func NewTelescopeHandler(dev Telescope) *TelescopeHandler {
	return &TelescopeHandler{
		DeviceHandler: DeviceHandler{dev: dev},
		dev:           dev,
	}
}

func (th *TelescopeHandler) RegisterRoutes(mux *http.ServeMux) {
	th.DeviceHandler.RegisterRoutes(mux)

	mux.HandleFunc("GET /rightascension", th.handleStatus)
	mux.HandleFunc("GET /declination", th.handleStatus)
	mux.HandleFunc("GET /azimuth", th.handleStatus)
	mux.HandleFunc("GET /altitude", th.handleStatus)
	mux.HandleFunc("GET /athome", th.handleStatus)
	mux.HandleFunc("GET /atpark", th.handleStatus)
	mux.HandleFunc("GET /slewing", th.handleStatus)
	mux.HandleFunc("GET /tracking", th.handleStatus)
	mux.HandleFunc("GET /alignmentmode", th.handleStatus)
	mux.HandleFunc("GET /sitelatitude", th.handleStatus)
	mux.HandleFunc("GET /sitelongitude", th.handleStatus)
	mux.HandleFunc("GET /utcdate", th.handleStatus)

	mux.HandleFunc("GET /canfindhome", th.handleCapabilities)
	mux.HandleFunc("GET /canpark", th.handleCapabilities)
	mux.HandleFunc("GET /cansettracking", th.handleCapabilities)
	mux.HandleFunc("GET /canslew", th.handleCapabilities)
	mux.HandleFunc("GET /canslewasync", th.handleCapabilities)
	mux.HandleFunc("GET /cansync", th.handleCapabilities)
	mux.HandleFunc("GET /canunpark", th.handleCapabilities)

	mux.HandleFunc("PUT /tracking", th.handleSetTracking)
	mux.HandleFunc("PUT /sitelatitude", th.handleSetSiteLatitude)
	mux.HandleFunc("PUT /sitelongitude", th.handleSetSiteLongitude)
	mux.HandleFunc("PUT /utcdate", th.handleSetUTCDate)
	mux.HandleFunc("PUT /slewtocoordinatesasync", th.handleSlewToCoordinatesAsync)
	mux.HandleFunc("PUT /synctocoordinates", th.handleSyncToCoordinates)
	mux.HandleFunc("PUT /abortslew", th.handleAbortSlew)
}

func (th *TelescopeHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	property := r.URL.Path[1:]
	log.Debugf("Telescope property: %s", property)

	if !th.dev.Connected() {
		handleError(w, r, ErrNotConnected)
		return
	}

	status := th.dev.Status()

	switch property {
	case "rightascension":
		handleResponse(w, r, status.RightAscension)
	case "declination":
		handleResponse(w, r, status.Declination)
	case "azimuth":
		handleResponse(w, r, status.Azimuth)
	case "altitude":
		handleResponse(w, r, status.Altitude)
	case "athome":
		handleResponse(w, r, status.AtHome)
	case "atpark":
		handleResponse(w, r, status.AtPark)
	case "slewing":
		handleResponse(w, r, status.Slewing)
	case "tracking":
		handleResponse(w, r, status.Tracking)
	case "alignmentmode":
		handleResponse(w, r, status.AlignmentMode)
	case "sitelatitude":
		handleResponse(w, r, status.SiteLatitude)
	case "sitelongitude":
		handleResponse(w, r, status.SiteLongitude)
	case "utcdate":
		handleResponse(w, r, formatUTCDate(status.UTCDate))
	default:
		handleError(w, r, ErrPropertyNotImplemented)
	}
}

func (th *TelescopeHandler) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	property := r.URL.Path[1:]
	log.Debugf("Telescope property: %s", property)

	cap := th.dev.Capabilities()

	switch property {
	case "canfindhome":
		handleResponse(w, r, cap.CanFindHome)
	case "canpark":
		handleResponse(w, r, cap.CanPark)
	case "cansettracking":
		handleResponse(w, r, cap.CanSetTracking)
	case "canslew":
		handleResponse(w, r, cap.CanSlew)
	case "canslewasync":
		handleResponse(w, r, cap.CanSlewAsync)
	case "cansync":
		handleResponse(w, r, cap.CanSync)
	case "canunpark":
		handleResponse(w, r, cap.CanUnpark)
	default:
		handleError(w, r, ErrPropertyNotImplemented)
	}
}

func (th *TelescopeHandler) handleSetTracking(w http.ResponseWriter, r *http.Request) {
	tracking, err := parseBoolRequest(r, "Tracking")
	if err != nil {
		handleError(w, r, err)
		return
	}

	if err := th.dev.SetTracking(tracking); err != nil {
		handleError(w, r, err)
		return
	}

	handleResponse(w, r, nil)
}

func (th *TelescopeHandler) handleSetSiteLatitude(w http.ResponseWriter, r *http.Request) {
	lat, err := parseFloatRequest(r, "SiteLatitude")
	if err != nil {
		handleError(w, r, err)
		return
	}

	if err := th.dev.SetSiteLatitude(lat); err != nil {
		handleError(w, r, err)
		return
	}

	handleResponse(w, r, nil)
}

func (th *TelescopeHandler) handleSetSiteLongitude(w http.ResponseWriter, r *http.Request) {
	lon, err := parseFloatRequest(r, "SiteLongitude")
	if err != nil {
		handleError(w, r, err)
		return
	}

	if err := th.dev.SetSiteLongitude(lon); err != nil {
		handleError(w, r, err)
		return
	}

	handleResponse(w, r, nil)
}

func (th *TelescopeHandler) handleSetUTCDate(w http.ResponseWriter, r *http.Request) {
	date, err := parseTimeRequest(r, "UTCDate")
	if err != nil {
		handleError(w, r, err)
		return
	}

	if err := th.dev.SetUTCDate(date); err != nil {
		handleError(w, r, err)
		return
	}

	handleResponse(w, r, nil)
}

func (th *TelescopeHandler) handleSlewToCoordinatesAsync(w http.ResponseWriter, r *http.Request) {
	ra, dec, err := parseCoordinates(r)
	if err != nil {
		handleError(w, r, err)
		return
	}

	if err := th.dev.SlewToCoordinatesAsync(ra, dec); err != nil {
		handleError(w, r, err)
		return
	}

	handleResponse(w, r, nil)
}

func (th *TelescopeHandler) handleSyncToCoordinates(w http.ResponseWriter, r *http.Request) {
	ra, dec, err := parseCoordinates(r)
	if err != nil {
		handleError(w, r, err)
		return
	}

	if err := th.dev.SyncToCoordinates(ra, dec); err != nil {
		handleError(w, r, err)
		return
	}

	handleResponse(w, r, nil)
}

func (th *TelescopeHandler) handleAbortSlew(w http.ResponseWriter, r *http.Request) {
	if err := th.dev.AbortSlew(); err != nil {
		handleError(w, r, err)
		return
	}

	handleResponse(w, r, nil)
}

func parseCoordinates(r *http.Request) (float64, float64, error) {
	ra, err := parseFloatRequest(r, "RightAscension")
	if err != nil {
		return 0, 0, err
	}
	dec, err := parseFloatRequest(r, "Declination")
	if err != nil {
		return 0, 0, err
	}
	return ra, dec, nil
}
