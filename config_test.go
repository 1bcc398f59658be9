package main

import (
	"testing"

	"github.com/matryer/is"
)

func TestConfigLoad(t *testing.T) {
	is := is.New(t)
	t.Setenv("LIMIT", "50")
	t.Setenv("CALLS_ONLY", "true")

	c := &config{}
	is.NoErr(c.Load([]string{"sip-dialogs", "-input", "calls.pcap", "-icase", "-report", "flows", "alice", "bob"}))
	is.Equal(c.Input, "calls.pcap")
	is.True(c.ICase)
	is.Equal(c.Report, reportFlows)
	is.Equal(c.Match, "alice bob") // positional arguments
	is.Equal(c.Limit, 50)          // from the environment
	is.True(c.CallsOnly)
	is.Equal(c.MQTT.Broker, "tcp://localhost:1883")
}

func TestConfigFlagBeatsEnv(t *testing.T) {
	is := is.New(t)
	t.Setenv("LIMIT", "50")
	c := &config{}
	is.NoErr(c.Load([]string{"sip-dialogs", "-limit", "7"}))
	is.Equal(c.Limit, 7)
	is.Equal(c.Match, "")
}

func TestConfigErrors(t *testing.T) {
	for name, args := range map[string][]string{
		"report": {"sip-dialogs", "-report", "pie"},
		"limit":  {"sip-dialogs", "-limit", "-1"},
		"flag":   {"sip-dialogs", "-no-such-flag"},
	} {
		args := args
		t.Run(name, func(t *testing.T) {
			is := is.New(t)
			c := &config{}
			is.True(c.Load(args) != nil)
		})
	}
}
