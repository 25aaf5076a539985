package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/d2lookup/internal/peer"
	"github.com/Pablu23/d2lookup/internal/server"
)

type fileConfig struct {
	AckTimeout      string `toml:"ack_timeout"`
	MaxRetries      int    `toml:"max_retries"`
	ReceiveTimeout  string `toml:"receive_timeout"`
	RetransmitDelay string `toml:"retransmit_delay"`
	LogLevel        string `toml:"log_level"`

	ListenAddress  string `toml:"listen_address"`
	ListenPort     int    `toml:"listen_port"`
	SessionTimeout string `toml:"session_timeout"`
	BatchSize      int    `toml:"batch_size"`
}

type config struct {
	Peer     peer.Options
	Server   server.Options
	LogLevel log.Level
}

func defaultConfig() config {
	return config{
		Peer:     *peer.NewDefaultOptions(),
		Server:   *server.NewDefaultOptions(),
		LogLevel: log.InfoLevel,
	}
}

func (cfg config) peerOptions(o *peer.Options) {
	*o = cfg.Peer
}

func (cfg config) serverOptions(o *server.Options) {
	*o = cfg.Server
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}

	durations := []struct {
		key   string
		value string
		dst   []*time.Duration
	}{
		{"ack_timeout", raw.AckTimeout, []*time.Duration{&cfg.Peer.AckTimeout, &cfg.Server.AckTimeout}},
		{"receive_timeout", raw.ReceiveTimeout, []*time.Duration{&cfg.Peer.ReceiveTimeout}},
		{"retransmit_delay", raw.RetransmitDelay, []*time.Duration{&cfg.Peer.RetransmitDelay}},
		{"session_timeout", raw.SessionTimeout, []*time.Duration{&cfg.Server.SessionTimeout}},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		for _, dst := range d.dst {
			*dst = parsed
		}
	}

	if meta.IsDefined("max_retries") {
		cfg.Peer.MaxRetries = raw.MaxRetries
		cfg.Server.MaxRetries = raw.MaxRetries
	}

	if meta.IsDefined("log_level") {
		level, err := log.ParseLevel(strings.TrimSpace(raw.LogLevel))
		if err != nil {
			return config{}, fmt.Errorf("parse log_level: %w", err)
		}
		cfg.LogLevel = level
	}

	if meta.IsDefined("listen_address") {
		cfg.Server.Address = strings.TrimSpace(raw.ListenAddress)
	}

	if meta.IsDefined("listen_port") {
		cfg.Server.Port = raw.ListenPort
	}

	if meta.IsDefined("batch_size") {
		cfg.Server.BatchSize = raw.BatchSize
	}

	return cfg, nil
}
