package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/theckman/yacspin"
	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/magnetlab/generichttp"
	"github.com/nasa-jpl/magnetlab/oxford"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "ipsserver.yml"
	k              = koanf.New(".")
	log            = logrus.New()
)

func root() {
	str := `ipsserver controls Oxford Instruments MercuryiPS magnet supplies and
exposes them over HTTP

Usage:
	ipsserver <command>

Commands:
	run
	ramp <target T> [endpoint]
	heater [endpoint]
	read <quantity> [endpoint]
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `ipsserver is configured by ipsserver.yml in the working directory, by a
.env file, and by IPS_ environment variables, in increasing precedence.
IPS_ADDR=:9000 overrides Addr, IPS_REDIS__ADDR overrides Redis.Addr.

Each node is one supply.  Addr is host:port (port 7020 if omitted) or a
serial device with Serial: true.  Endpoint is the URL the supply is served
under; "omc/ips" produces /omc/ips/field and so on.

POST /<endpoint>/field {"f64": 1.5} runs a supervised ramp and blocks until
it ends.  The ramp is refused if the switch heater is off, and stopped with
the supply in HOLD if the magnet exceeds TemperatureLimit (K).  Changes to
TemperatureLimit in the config file are applied while the server runs.

ramp and heater run from the command line against the first node, or the
named one; ctrl-c during a ramp puts the supply in HOLD.

Quantities for read:
	` + strings.Join(oxford.Names(), "\n\t")
	fmt.Println(str)
}

func mkconf() {
	c, err := unmarshal(k)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c, err := unmarshal(k)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("ipsserver version %v\n", Version)
}

func run(c Config) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mux, err := BuildMux(c, log, reg)
	if err != nil {
		log.Fatal(err)
	}
	err = watchConfig(ConfigFileName, log, func(c Config) { mux.ApplyLimits(c, log) })
	if err != nil {
		log.WithError(err).Warn("config file will not be watched")
	}
	log.WithField("addr", c.Addr).Info("now listening for requests")
	log.Fatal(serve(mux, func(h http.Handler) error { return http.ListenAndServe(c.Addr, h) }))
}

// serve runs listen until it fails, then closes the mux so its publishers
// stop before the process exits
func serve(mux *Mux, listen func(http.Handler) error) error {
	err := listen(mux)
	mux.Close()
	return err
}

// pickNode returns the binding of the node named by endpoint, or the first
func pickNode(c Config, endpoint string) (*oxford.MercuryIPS, error) {
	if len(c.Nodes) == 0 {
		return nil, fmt.Errorf("no nodes configured")
	}
	node := c.Nodes[0]
	if endpoint != "" {
		found := false
		for _, n := range c.Nodes {
			if generichttp.SubMuxSanitize(n.Endpoint) == generichttp.SubMuxSanitize(endpoint) {
				node, found = n, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("no node with endpoint %s", endpoint)
		}
	}
	return newSupply(c, node, log)
}

func newSpinner(suffix string) *yacspin.Spinner {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " " + suffix,
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	return spinner
}

func ramp(c Config, args []string) {
	if len(args) < 1 {
		log.Fatal("usage: ipsserver ramp <target T> [endpoint]")
	}
	target, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		log.Fatal(err)
	}
	ips, err := pickNode(c, strings.Join(args[1:], ""))
	if err != nil {
		log.Fatal(err)
	}
	spinner := newSpinner("ramping")
	ips.Reporter = oxford.ReporterFunc(func(p oxford.Progress) {
		spinner.Message(fmt.Sprintf("%s, %.4f T", p, p.Current))
	})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	spinner.Start()
	res, err := ips.RampFieldTo(ctx, target)
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		os.Exit(1)
	}
	spinner.StopMessage(fmt.Sprintf("%.4f T after %v", res.Final, res.Elapsed.Round(time.Second)))
	spinner.Stop()
}

func heater(c Config, args []string) {
	ips, err := pickNode(c, strings.Join(args, ""))
	if err != nil {
		log.Fatal(err)
	}
	spinner := newSpinner("switch heater")
	spinner.Message(fmt.Sprintf("waiting %v for the switch to settle", ips.HeaterWait))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	spinner.Start()
	if err := ips.SwitchHeaterOnAndWait(ctx); err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		os.Exit(1)
	}
	spinner.StopMessage("on")
	spinner.Stop()
}

func read(c Config, args []string) {
	if len(args) < 1 {
		log.Fatal("usage: ipsserver read <quantity> [endpoint]")
	}
	ips, err := pickNode(c, strings.Join(args[1:], ""))
	if err != nil {
		log.Fatal(err)
	}
	v, err := ips.Read(args[0])
	if err != nil {
		log.Fatal(err)
	}
	info := oxford.Registry[args[0]].Info()
	fmt.Printf("%s: %v %s\n", info.Label, v, info.Unit)
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	if err := loadConfig(k, ConfigFileName); err != nil {
		log.Fatal(err)
	}
	c, err := unmarshal(k)
	if err != nil {
		log.Fatal(err)
	}
	if err := setupLogger(log, c); err != nil {
		log.Fatal(err)
	}
	cmd := strings.ToLower(args[1])
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "run":
		run(c)
	case "ramp":
		ramp(c, args[2:])
	case "heater":
		heater(c, args[2:])
	case "read":
		read(c, args[2:])
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}
