// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/zpipe-go/zpipe/wire"
)

// fileConfig maps the keys of the TOML config file.
type fileConfig struct {
	Gateway     []string       `toml:"gateway"`
	Format      string         `toml:"format"`
	Count       int            `toml:"count"`
	Class       string         `toml:"class"`
	Instance    string         `toml:"instance"`
	Opcode      string         `toml:"opcode"`
	Concurrency int            `toml:"concurrency"`
	LogLevel    string         `toml:"log_level"`
	Development bool           `toml:"development"`
	MetricsAddr string         `toml:"metrics_addr"`
	Subscribe   []subscription `toml:"subscribe"`
}

type subscription struct {
	Class     string `toml:"class"`
	Instance  string `toml:"instance"`
	Recipient string `toml:"recipient"`
}

type config struct {
	Gateway     []string
	Format      wire.Format
	Count       int
	Class       string
	Instance    string
	Opcode      string
	Concurrency int
	LogLevel    string
	Development bool
	MetricsAddr string
	Subs        []wire.Subscription
}

func defaultConfig() config {
	return config{
		Gateway:  []string{"./zpipe"},
		Format:   wire.Canonical,
		Count:    3,
		Class:    "zpipe-example",
		Instance: "example",
		Opcode:   "zpipe-example",
		LogLevel: "info",
		Subs: []wire.Subscription{
			{Class: "zpipe-example", Instance: "example", Recipient: wire.Wildcard},
		},
	}
}

// loadConfig reads the TOML file at path over the defaults. An empty path
// yields the defaults.
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
	if undec := meta.Undecoded(); len(undec) != 0 {
		return config{}, fmt.Errorf("load config: unknown key %q", undec[0].String())
	}

	if meta.IsDefined("gateway") {
		if len(raw.Gateway) == 0 {
			return config{}, errors.New("load config: gateway must name a program")
		}
		cfg.Gateway = raw.Gateway
	}
	if meta.IsDefined("format") {
		f := wire.FormatByName(strings.TrimSpace(raw.Format))
		if f == nil {
			return config{}, fmt.Errorf("load config: unknown format %q", raw.Format)
		}
		cfg.Format = f
	}
	if meta.IsDefined("count") {
		cfg.Count = raw.Count
	}
	if meta.IsDefined("class") {
		cfg.Class = strings.TrimSpace(raw.Class)
	}
	if meta.IsDefined("instance") {
		cfg.Instance = strings.TrimSpace(raw.Instance)
	}
	if meta.IsDefined("opcode") {
		cfg.Opcode = strings.TrimSpace(raw.Opcode)
	}
	if meta.IsDefined("concurrency") {
		cfg.Concurrency = raw.Concurrency
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("development") {
		cfg.Development = raw.Development
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("subscribe") {
		cfg.Subs = cfg.Subs[:0]
		for _, s := range raw.Subscribe {
			if s.Class == "" {
				return config{}, errors.New("load config: subscription has no class")
			}
			cfg.Subs = append(cfg.Subs, wire.Subscription{
				Class: s.Class, Instance: s.Instance, Recipient: s.Recipient,
			})
		}
	}
	if cfg.Count < 0 {
		return config{}, fmt.Errorf("load config: invalid count %d", cfg.Count)
	}
	return cfg, nil
}
