package oxford

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nasa-jpl/magnetlab/generichttp"
	"github.com/nasa-jpl/magnetlab/generichttp/ascii"
)

// HTTPWrapper exposes a MercuryIPS over HTTP
type HTTPWrapper struct {
	// IPS is the supply being wrapped
	IPS *MercuryIPS

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// StatusFor maps an error from the binding to an HTTP status code
func StatusFor(err error) int {
	var (
		verr *ValidationError
		eerr *InvalidEnumError
		rerr *RejectedError
		cerr *CommunicationError
		perr *ParseError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrRampInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrHeaterOff):
		return http.StatusPreconditionFailed
	case errors.Is(err, ErrTemperatureExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrRampCancelled):
		return http.StatusRequestTimeout
	case errors.As(err, &verr), errors.As(err, &eerr):
		return http.StatusBadRequest
	case errors.As(err, &rerr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &cerr), errors.As(err, &perr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(m *MercuryIPS) HTTPWrapper {
	w := HTTPWrapper{IPS: m}
	mp := func(method, path string) generichttp.MethodPath {
		return generichttp.MethodPath{Method: method, Path: path}
	}
	rampStatus := func() (string, error) {
		s, err := m.RampStatus()
		return string(s), err
	}
	setRampStatus := func(s string) error { return m.SetRampStatus(RampMode(s)) }
	tLimit := func() (float64, error) { return m.TemperatureLimit(), nil }

	rt := generichttp.RouteTable{
		mp(http.MethodGet, "/identification"):     generichttp.GetString(m.Identification),
		mp(http.MethodGet, "/quantities"):         w.quantities,
		mp(http.MethodGet, "/voltage"):            generichttp.GetFloat(m.Voltage),
		mp(http.MethodGet, "/current"):            generichttp.GetFloat(m.Current),
		mp(http.MethodGet, "/current-persistent"): generichttp.GetFloat(m.CurrentPersistent),
		mp(http.MethodGet, "/current-target"):     generichttp.GetFloat(m.CurrentTarget),
		mp(http.MethodGet, "/current-ramp-rate"):  generichttp.GetFloat(m.CurrentRampRate),
		mp(http.MethodGet, "/field"):              generichttp.GetFloat(m.Field),
		mp(http.MethodGet, "/field-persistent"):   generichttp.GetFloat(m.FieldPersistent),
		mp(http.MethodGet, "/temperature"):        generichttp.GetFloat(m.Temperature),

		mp(http.MethodGet, "/field-target"):       generichttp.GetFloat(m.FieldTarget),
		mp(http.MethodPost, "/field-target"):      generichttp.SetFloat(m.SetFieldTarget, StatusFor),
		mp(http.MethodGet, "/field-ramp-rate"):    generichttp.GetFloat(m.FieldRampRate),
		mp(http.MethodPost, "/field-ramp-rate"):   generichttp.SetFloat(m.SetFieldRampRate, StatusFor),
		mp(http.MethodGet, "/atob"):               generichttp.GetFloat(m.ATOB),
		mp(http.MethodPost, "/atob"):              generichttp.SetFloat(m.SetATOB, StatusFor),
		mp(http.MethodGet, "/temperature-limit"):  generichttp.GetFloat(tLimit),
		mp(http.MethodPost, "/temperature-limit"): generichttp.SetFloat(m.SetTemperatureLimit, StatusFor),
		mp(http.MethodGet, "/ramp-status"):        generichttp.GetString(rampStatus),
		mp(http.MethodPost, "/ramp-status"):       generichttp.SetString(setRampStatus, StatusFor),
		mp(http.MethodGet, "/switch-heater"):      generichttp.GetBool(m.SwitchHeater),
		mp(http.MethodPost, "/switch-heater"):     generichttp.SetBool(m.SetSwitchHeater, StatusFor),

		mp(http.MethodPost, "/field"):                     w.rampField,
		mp(http.MethodPost, "/ramp-to-target"):            w.rampToTarget,
		mp(http.MethodPost, "/switch-heater/on-and-wait"): w.heaterOnAndWait,
	}
	w.RouteTable = rt
	ascii.InjectRawComm(w, m)
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// rampField runs a supervised ramp to {"f64": target} and replies with the
// RampResult, with the status of the error if there was one
func (h HTTPWrapper) rampField(w http.ResponseWriter, r *http.Request) {
	f := generichttp.FloatT{}
	err := json.NewDecoder(r.Body).Decode(&f)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.IPS.RampFieldTo(r.Context(), f.F64)
	body := struct {
		RampResult
		Error string `json:"error,omitempty"`
	}{RampResult: res}
	if err != nil {
		body.Error = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(err))
	json.NewEncoder(w).Encode(body)
}

func (h HTTPWrapper) rampToTarget(w http.ResponseWriter, r *http.Request) {
	if err := h.IPS.RampToTarget(); err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h HTTPWrapper) heaterOnAndWait(w http.ResponseWriter, r *http.Request) {
	if err := h.IPS.SwitchHeaterOnAndWait(r.Context()); err != nil {
		status := StatusFor(err)
		if errors.Is(err, r.Context().Err()) {
			status = http.StatusRequestTimeout
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h HTTPWrapper) quantities(w http.ResponseWriter, r *http.Request) {
	infos := make([]Info, 0, len(Registry))
	for _, name := range Names() {
		infos = append(infos, Registry[name].Info())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(infos)
}
