package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/magnetlab/generichttp"
	"github.com/nasa-jpl/magnetlab/oxford"
	"github.com/nasa-jpl/magnetlab/server/middleware/locker"
	"github.com/nasa-jpl/magnetlab/telemetry"
	"github.com/nasa-jpl/magnetlab/util"
)

// Mux is the root router of the server and the supplies behind it
type Mux struct {
	chi.Router

	// Supplies maps sanitized endpoints to bindings
	Supplies map[string]*oxford.MercuryIPS

	publishers []*telemetry.RedisPublisher
}

// newSupply constructs the binding for one node and applies its settings
func newSupply(c Config, node ObjSetup, log *logrus.Logger) (*oxford.MercuryIPS, error) {
	var ips *oxford.MercuryIPS
	if c.Mock {
		ips = oxford.NewMockIPS()
	} else {
		ips = oxford.NewMercuryIPS(node.Addr, node.Serial)
	}
	ips.Log = log.WithField("node", node.Endpoint)
	if node.PollIntervalSec > 0 {
		ips.PollInterval = util.SecsToDuration(node.PollIntervalSec)
	}
	if node.HeaterWaitSec > 0 {
		ips.HeaterWait = util.SecsToDuration(node.HeaterWaitSec)
	}
	if node.TemperatureLimit != 0 {
		if err := ips.SetTemperatureLimit(node.TemperatureLimit); err != nil {
			return nil, err
		}
	}
	return ips, nil
}

// BuildMux constructs a supply for every node, and a router which serves
// each under its endpoint behind a lock, plus /metrics and /endpoints at
// the root.  The route graph served at /endpoints maps endpoints to their
// routes.
func BuildMux(c Config, log *logrus.Logger, reg *prometheus.Registry) (*Mux, error) {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	mux := &Mux{Router: root, Supplies: map[string]*oxford.MercuryIPS{}}
	supergraph := map[string][]string{}

	for _, node := range c.Nodes {
		hndlS := generichttp.SubMuxSanitize(node.Endpoint)
		if _, dup := mux.Supplies[hndlS]; dup {
			return nil, fmt.Errorf("endpoint %s used by more than one node", hndlS)
		}
		ips, err := newSupply(c, node, log)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", hndlS, err)
		}
		reporters := oxford.MultiReporter{oxford.LogReporter{Log: ips.Log}}
		col, err := telemetry.NewCollector(ips, hndlS, reg)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", hndlS, err)
		}
		reporters = append(reporters, col)
		if c.Redis.Addr != "" {
			pub := telemetry.NewRedisPublisher(c.Redis.Addr, c.Redis.Password, c.Redis.DB, c.Redis.Channel, hndlS, ips.Log)
			mux.publishers = append(mux.publishers, pub)
			reporters = append(reporters, pub)
		}
		ips.Reporter = reporters
		mux.Supplies[hndlS] = ips

		httper := oxford.NewHTTPWrapper(ips)
		lock := locker.New()
		locker.Inject(httper, lock)
		supergraph[hndlS] = httper.RT().Endpoints()

		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	root.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return mux, nil
}

// ApplyLimits sets the temperature limit of every running supply that has
// one configured in c
func (m *Mux) ApplyLimits(c Config, log logrus.FieldLogger) {
	for _, node := range c.Nodes {
		ips, ok := m.Supplies[generichttp.SubMuxSanitize(node.Endpoint)]
		if !ok || node.TemperatureLimit == 0 || node.TemperatureLimit == ips.TemperatureLimit() {
			continue
		}
		entry := log.WithFields(logrus.Fields{"node": node.Endpoint, "limit": node.TemperatureLimit})
		if err := ips.SetTemperatureLimit(node.TemperatureLimit); err != nil {
			entry.WithError(err).Warn("rejected temperature limit from config")
			continue
		}
		entry.Info("temperature limit updated from config")
	}
}

// Close releases the Redis connections
func (m *Mux) Close() {
	for _, p := range m.publishers {
		p.Close()
	}
}
