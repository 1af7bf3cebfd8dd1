// Package generichttp defines the route table used to expose devices over
// HTTP, the JSON payload types every route speaks, and handler generators
// for the common get/set shapes
package generichttp

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi"
)

// FloatT is a struct with a single F64 field
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single Int field
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single Str field
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single Bool field
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload is a struct holding one value of type T, which is encoded as
// JSON ({"f64": 1.25}) or, if the request has ?fmt=txt, as plain text
type HumanPayload struct {
	T      types.BasicKind
	Float  float64
	Int    int
	String string
	Bool   bool
}

func (hp HumanPayload) text() string {
	switch hp.T {
	case types.Float64:
		return strconv.FormatFloat(hp.Float, 'g', -1, 64)
	case types.Int:
		return strconv.Itoa(hp.Int)
	case types.Bool:
		return strconv.FormatBool(hp.Bool)
	}
	return hp.String
}

func (hp HumanPayload) object() interface{} {
	switch hp.T {
	case types.Float64:
		return FloatT{F64: hp.Float}
	case types.Int:
		return IntT{Int: hp.Int}
	case types.Bool:
		return BoolT{Bool: hp.Bool}
	}
	return StrT{Str: hp.String}
}

// EncodeAndRespond writes the payload to w in the format r asked for
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	if strings.EqualFold(r.URL.Query().Get("fmt"), "txt") {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, hp.text())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(hp.object())
}

// MethodPath is an HTTP method and a chi path pattern
type MethodPath struct {
	Method, Path string
}

// RouteTable maps method + path pairs to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints returns the sorted list of "METHOD /path" strings in the table
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, k.Method+" "+k.Path)
	}
	sort.Strings(routes)
	return routes
}

// Bind registers every route of the table on r, plus GET /endpoints
func (rt RouteTable) Bind(r chi.Router) {
	for mp, h := range rt {
		r.MethodFunc(mp.Method, mp.Path, h)
	}
	r.Get("/endpoints", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(rt.Endpoints())
	})
}

// HTTPer is something that exposes a route table
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize prepares a URL stem for mounting, "omc/ips/" => "/omc/ips"
func SubMuxSanitize(str string) string {
	str = strings.TrimSuffix(str, "*")
	str = strings.Trim(str, "/")
	return "/" + str
}

// ErrorStatus maps an error to an HTTP status code
type ErrorStatus func(error) int

// Reply500 reports every error as an internal server error
func Reply500(error) int { return http.StatusInternalServerError }

// GetFloat calls a float-getting function and returns the response
// as json {'f64': value}
func GetFloat(fcn func() (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: types.Float64, Float: f}
		hp.EncodeAndRespond(w, r)
	}
}

// SetFloat parses a JSON input of {'f64': value} and
// calls fcn with it; errors are mapped to a status with status
func SetFloat(fcn func(float64) error, status ErrorStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(f.F64)
		if err != nil {
			http.Error(w, err.Error(), status(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetString calls a string-getting function and returns the response
// as json {'str': value}
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: types.String, String: s}
		hp.EncodeAndRespond(w, r)
	}
}

// SetString parses a JSON input of {'str': value} and
// calls fcn with it
func SetString(fcn func(string) error, status ErrorStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := StrT{}
		err := json.NewDecoder(r.Body).Decode(&s)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(s.Str)
		if err != nil {
			http.Error(w, err.Error(), status(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: types.Bool, Bool: b}
		hp.EncodeAndRespond(w, r)
	}
}

// SetBool parses a JSON input of {'bool': value} and
// calls fcn with it
func SetBool(fcn func(bool) error, status ErrorStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := BoolT{}
		err := json.NewDecoder(r.Body).Decode(&b)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(b.Bool)
		if err != nil {
			http.Error(w, err.Error(), status(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
