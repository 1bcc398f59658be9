package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nextcaller/sip-dialogs/publisher"
)

const (
	reportNone  = "none"
	reportCalls = "calls"
	reportFlows = "flows"
)

type config struct {
	LogLevel    string
	Interface   string
	Input       string
	Output      string
	BPFFilter   string
	MetricsAddr string

	Match            string
	ICase            bool
	Invert           bool
	Limit            int
	CallsOnly        bool
	IgnoreIncomplete bool
	Lookup           bool
	DisplayHost      bool
	Ignore           string
	DisplayFilter    string

	Columns string
	Report  string
	Color   bool

	PublishFilter     string
	QueueDepth        int
	TelemetryInterval time.Duration
	MQTT              publisher.MQTTOptions
}

func defEnvStr(k, dval string) string {
	if v, ok := os.LookupEnv(k); ok {
		return v
	}
	return dval
}

func defEnvBool(k string, dval bool) bool {
	if v, ok := os.LookupEnv(k); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return dval
}

func defEnvInt(k string, dval int) int {
	if v, ok := os.LookupEnv(k); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return dval
}

func (c *config) Load(args []string) error {
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.StringVar(&c.LogLevel, "log-level", defEnvStr("LOG_LEVEL", "info"), "logging level (debug, info, error)")
	fs.StringVar(&c.Interface, "interface", defEnvStr("INTERFACE", "lo"), "Interface for pcap to capture from")
	fs.StringVar(&c.Input, "input", defEnvStr("INPUT", ""), "pcap file to read instead of a live interface")
	fs.StringVar(&c.Output, "output", defEnvStr("OUTPUT", ""), "pcap file to save captured packets to")
	fs.StringVar(&c.BPFFilter, "bpf-filter", defEnvStr("BPF_FILTER", "port 5060"), "pcap BPF packet selection filter")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", defEnvStr("METRICS_ADDR", ""), "IP:Port to bind for /metrics endpoint")

	fs.BoolVar(&c.ICase, "icase", defEnvBool("ICASE", false), "match expression ignores case")
	fs.BoolVar(&c.Invert, "invert", defEnvBool("INVERT", false), "store dialogs NOT matching the match expression")
	fs.IntVar(&c.Limit, "limit", defEnvInt("LIMIT", 20000), "maximum number of stored dialogs, 0 for unlimited")
	fs.BoolVar(&c.CallsOnly, "calls", defEnvBool("CALLS_ONLY", false), "only store dialogs starting with INVITE")
	fs.BoolVar(&c.IgnoreIncomplete, "ignore-incomplete", defEnvBool("IGNORE_INCOMPLETE", false), "only store dialogs starting with a request")
	fs.BoolVar(&c.Lookup, "lookup", defEnvBool("LOOKUP", false), "resolve addresses to hostnames")
	fs.BoolVar(&c.DisplayHost, "display-host", defEnvBool("DISPLAY_HOST", false), "show hostnames instead of addresses in call flows")
	fs.StringVar(&c.Ignore, "ignore", defEnvStr("IGNORE", ""), "SIP filter; dialogs whose first message matches are not stored")
	fs.StringVar(&c.DisplayFilter, "display-filter", defEnvStr("DISPLAY_FILTER", ""), "SIP filter; only calls with a matching message are reported")

	fs.StringVar(&c.Columns, "columns", defEnvStr("COLUMNS_FILE", ""), "YAML file selecting call list columns")
	fs.StringVar(&c.Report, "report", defEnvStr("REPORT", reportCalls), "report printed on exit (none, calls, flows)")
	fs.BoolVar(&c.Color, "color", defEnvBool("COLOR", false), "highlight call states in the report")

	fs.StringVar(&c.PublishFilter, "publish-filter", defEnvStr("PUBLISH_FILTER", ""), "SIP filter; only state changes caused by a matching message are published")
	fs.IntVar(&c.QueueDepth, "queue-depth", defEnvInt("QUEUE_DEPTH", 10000), "state changes queued for publishing before dropping")
	fs.DurationVar(&c.TelemetryInterval, "telemetry-interval", time.Minute, "how often to publish store telemetry")
	fs.StringVar(&c.MQTT.Broker, "broker", defEnvStr("BROKER", "tcp://localhost:1883"), "MQTT broker")
	fs.StringVar(&c.MQTT.ClientID, "client-id", defEnvStr("CLIENT_ID", ""), "MQTT Client ID")
	fs.StringVar(&c.MQTT.Topic, "topic", defEnvStr("TOPIC", ""), "MQTT publishing topic for call state changes; publishing is off if empty")
	fs.StringVar(&c.MQTT.Telemetry, "telemetry-topic", defEnvStr("TELEMETRY_TOPIC", ""), "MQTT publishing topic for telemetry")
	fs.StringVar(&c.MQTT.TLSKeyFile, "key-file", defEnvStr("KEY_FILE", ""), "MQTT TLS key file (pem)")
	fs.StringVar(&c.MQTT.TLSCertFile, "cert-file", defEnvStr("CERT_FILE", ""), "MQTT TLS cert file (pem)")

	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	// remaining arguments form the payload match expression
	c.Match = strings.Join(fs.Args(), " ")

	switch c.Report {
	case reportNone, reportCalls, reportFlows:
	default:
		return fmt.Errorf("unknown report %q", c.Report)
	}
	if c.Limit < 0 {
		return fmt.Errorf("negative limit %d", c.Limit)
	}
	return nil
}
