package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/povilasv/prommod"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
	"github.com/rs/zerolog"

	"github.com/nextcaller/sip-dialogs/collect"
	"github.com/nextcaller/sip-dialogs/dialog"
	"github.com/nextcaller/sip-dialogs/extract"
	"github.com/nextcaller/sip-dialogs/filters"
	"github.com/nextcaller/sip-dialogs/publisher"
	"github.com/nextcaller/sip-dialogs/report"
	"github.com/nextcaller/sip-dialogs/source"
)

var (
	// The following vars are meant to be filled in by
	// `go build -ldflags -X=main.<X>=<Value>`.

	// Version is the git tag of this build (v1.2.3)
	Version = "unknown"
	// Build is the git short hash ref of this build (123abcdef)
	Build = "unknown"
	// Branch is the git branch for this build (master)
	Branch = "unknown"
	// Date is when this build was created (2020-01-02T03:04:05Z)
	Date = "unknown"
)

// telemetry is the periodic store summary published to the telemetry topic.
type telemetry struct {
	Time   time.Time      `json:"time"`
	Calls  int            `json:"calls"`
	Full   bool           `json:"full"`
	States map[string]int `json:"states"`
}

func snapshot(s *dialog.Store) telemetry {
	t := telemetry{Time: time.Now().UTC(), Full: s.Full(), States: map[string]int{}}
	for _, c := range s.Calls() {
		state := c.State().String()
		if state == "" {
			state = "NONE"
		}
		t.States[state]++
		t.Calls++
	}
	return t
}

// compileOptional compiles a filter, returning nil for an empty source.
func compileOptional(name, src string) (filters.Filter, error) {
	if src == "" {
		return nil, nil
	}
	f, err := filters.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("unable to compile %v filter: %w", name, err)
	}
	return f, nil
}

// ingester hands extracted payloads to the store, warning once when the
// store stops taking new dialogs.
func ingester(log zerolog.Logger, store *dialog.Store) extract.Handler {
	var full sync.Once
	return func(p extract.Payload) error {
		_, err := store.Ingest(p.Data, p.Time, p.Src, p.Dst)
		if errors.Is(err, dialog.ErrLimitReached) {
			full.Do(func() {
				log.Warn().Int("calls", store.Count()).Msg("call limit reached, ignoring new dialogs")
			})
		}
		return err
	}
}

func publishTelemetry(ctx context.Context, publ *publisher.MQTTPublisher, store *dialog.Store, every time.Duration) {
	log := zerolog.Ctx(ctx)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := publ.PublishTelemetry(ctx, snapshot(store)); err != nil {
				log.Err(err).Msg("publishing telemetry")
			}
		}
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := zerolog.New(stderr).With().Timestamp().Str("app", "sip-dialogs").Logger()
	ctx = log.WithContext(ctx)

	cfg := &config{}
	if err := cfg.Load(args); err != nil {
		return fmt.Errorf("unable to load config: %w", err)
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Debug().Msg("debug logging active")

	log.Debug().Msg("setting up signal handling")
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		select {
		case <-signals:
			log.Debug().Msg("received quit signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Debug().Msg("compiling SIP filters")
	ignore, err := compileOptional("ignore", cfg.Ignore)
	if err != nil {
		return err
	}
	display, err := compileOptional("display", cfg.DisplayFilter)
	if err != nil {
		return err
	}
	publishFilter, err := compileOptional("publish", cfg.PublishFilter)
	if err != nil {
		return err
	}

	cols := report.DefaultColumns()
	if cfg.Columns != "" {
		if cols, err = report.LoadColumns(cfg.Columns); err != nil {
			return fmt.Errorf("unable to load columns: %w", err)
		}
	}

	var (
		publ      *publisher.MQTTPublisher
		collecter *collect.Collecter
		opts      = []dialog.Option{dialog.WithLogger(log.With().Str("component", "dialog").Logger())}
	)
	if cfg.MQTT.Topic != "" {
		log.Debug().Msg("creating MQTT publisher")
		if publ, err = publisher.NewMQTT(cfg.MQTT); err != nil {
			return fmt.Errorf("unable to create MQTT publisher: %w", err)
		}
		if err := publ.Connect(ctx); err != nil {
			return fmt.Errorf("unable to connect to MQTT broker: %w", err)
		}
		defer publ.Close()

		log.Debug().Msg("building event collecter")
		collecter = collect.NewCollecter(publishFilter, publ.Publish, cfg.QueueDepth)
		collecter.SetFilterInfo(cfg.PublishFilter)
		opts = append(opts, dialog.WithEvents(func(e dialog.Event) {
			if err := collecter.Accept(e); err != nil {
				log.Debug().Err(err).Msg("state change not queued")
			}
		}))
		go collecter.Publish(ctx)
	}

	log.Debug().Msg("building call store")
	store := dialog.NewStore(dialog.Config{
		Limit:            cfg.Limit,
		CallsOnly:        cfg.CallsOnly,
		IgnoreIncomplete: cfg.IgnoreIncomplete,
		LookupHostnames:  cfg.Lookup,
		DisplayHost:      cfg.DisplayHost,
		Ignore:           ignore,
	}, opts...)
	if err := store.ConfigureMatch(cfg.Match, cfg.ICase, cfg.Invert); err != nil {
		return fmt.Errorf("unable to compile match expression: %w", err)
	}
	if display != nil {
		store.SetCallFilter(dialog.MessageFilter(display))
	}
	if publ != nil && cfg.MQTT.Telemetry != "" {
		go publishTelemetry(ctx, publ, store, cfg.TelemetryInterval)
	}

	log.Debug().Msg("initializing pcap source")
	var capture *source.ClosableSource
	if cfg.Input != "" {
		capture, err = source.NewOffline(cfg.Input, cfg.BPFFilter)
	} else {
		capture, err = source.NewPCAP(cfg.Interface, cfg.BPFFilter)
	}
	if err != nil {
		return fmt.Errorf("unable to initialize pcap source: %w", err)
	}
	defer capture.Close()

	log.Debug().Msg("launching source shutdown closer")
	go func() { <-ctx.Done(); capture.Close() }()

	var packets <-chan gopacket.Packet = capture.Packets()
	var dumper *source.Dumper
	if cfg.Output != "" {
		log.Debug().Str("path", cfg.Output).Msg("saving captured packets")
		if dumper, err = source.CreateDumper(cfg.Output, capture.LinkType()); err != nil {
			return fmt.Errorf("unable to create pcap output: %w", err)
		}
		defer dumper.Close()
		packets = source.Tee(ctx, packets, dumper)
	}

	log.Debug().Msg("building SIP packet message extracter")
	extracter := extract.NewExtracter(nil)

	if cfg.MetricsAddr != "" {
		log.Debug().Msg("creating Prometheus registry")
		reg := prometheus.NewRegistry()
		version.Version = Version
		version.Revision = Build
		version.Branch = Branch
		version.BuildDate = Date
		reg.MustRegister(
			version.NewCollector("sipdialogs"),
			prommod.NewCollector("sipdialogs"),
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		)
		reg.MustRegister(capture.Metrics()...)
		reg.MustRegister(extracter.Metrics()...)
		reg.MustRegister(store.Metrics().List()...)
		if dumper != nil {
			reg.MustRegister(dumper.Metrics()...)
		}
		if collecter != nil {
			reg.MustRegister(collecter.Metrics()...)
		}

		log.Debug().
			Str("address", cfg.MetricsAddr).
			Str("path", "/metrics").
			Msg("publishing Prometheus endpoint")
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Handler: mux, Addr: cfg.MetricsAddr}
		// Since we never call srv.Shutdown(), ListenAndServe will only ever
		// return if the underlying socket fails.
		go func() { log.Err(srv.ListenAndServe()).Msg("http metrics endpoint failed") }()
	}

	log.Debug().Msg("beginning signaling capture")
	extracter.Extract(ctx, packets, ingester(log, store))
	log.Info().Int("calls", store.Count()).Msg("capture finished")

	printer := report.NewPrinter(cols, cfg.Color)
	switch cfg.Report {
	case reportCalls:
		printer.Calls(stdout, store)
	case reportFlows:
		printer.Calls(stdout, store)
		if err := printer.Flows(stdout, store); err != nil {
			return fmt.Errorf("unable to write report: %w", err)
		}
	}

	log.Info().Msg("shutdown complete.")
	return nil
}

func main() {
	// these are stateful global module level changes; only do them in main
	time.Local = time.UTC
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.999Z07:00"

	if err := run(os.Args, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
