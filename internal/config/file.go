package config

import (
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/pelletier/go-toml"
)

// fileSettings mirrors the TOML settings file:
//
//	listening_client = "0.0.0.0:9000"
//	sending_server   = "10.0.0.5:9000"
//	listening_server = "0.0.0.0:9001"
//	sending_client   = "10.0.0.9:9001"
//	timeout_ms       = 1000
//
//	[[direction]]
//	listen = "0.0.0.0:7000"
//	target = "10.0.0.7:7000"
type fileSettings struct {
	ListeningClient   string          `toml:"listening_client"`
	SendingClient     string          `toml:"sending_client"`
	ListeningServer   string          `toml:"listening_server"`
	SendingServer     string          `toml:"sending_server"`
	TimeoutMS         int64           `toml:"timeout_ms"`
	LogLevel          string          `toml:"log_level"`
	LogFormat         string          `toml:"log_format"`
	LogFile           string          `toml:"log_file"`
	AdminListenAddr   string          `toml:"admin_listen_addr"`
	StopTimeoutMS     int64           `toml:"stop_timeout_ms"`
	ShutdownTimeoutMS int64           `toml:"shutdown_timeout_ms"`
	Mode              string          `toml:"mode"`
	ServiceName       string          `toml:"service_name"`
	Direction         []fileDirection `toml:"direction"`
}

type fileDirection struct {
	Listen string `toml:"listen"`
	Target string `toml:"target"`
}

var knownFileKeys = map[string]bool{
	"listening_client":    true,
	"sending_client":      true,
	"listening_server":    true,
	"sending_server":      true,
	"timeout_ms":          true,
	"log_level":           true,
	"log_format":          true,
	"log_file":            true,
	"admin_listen_addr":   true,
	"stop_timeout_ms":     true,
	"shutdown_timeout_ms": true,
	"mode":                true,
	"service_name":        true,
	"direction":           true,
}

func (s *settings) loadFile(path string) error {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return errors.Wrapf(err, "load settings %s", path)
	}
	return s.applyTree(tree)
}

// applyTree overrides only the keys present in tree.
func (s *settings) applyTree(tree *toml.Tree) error {
	var unknown []string
	for _, k := range tree.Keys() {
		if !knownFileKeys[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errors.Errorf("unknown settings keys: %v", unknown)
	}

	var fs fileSettings
	if err := tree.Unmarshal(&fs); err != nil {
		return errors.Wrap(err, "decode settings")
	}

	strs := []struct {
		key string
		src string
		dst *string
	}{
		{"listening_client", fs.ListeningClient, &s.ListeningClient},
		{"sending_client", fs.SendingClient, &s.SendingClient},
		{"listening_server", fs.ListeningServer, &s.ListeningServer},
		{"sending_server", fs.SendingServer, &s.SendingServer},
		{"log_level", fs.LogLevel, &s.LogLevel},
		{"log_format", fs.LogFormat, &s.LogFormat},
		{"log_file", fs.LogFile, &s.LogFile},
		{"admin_listen_addr", fs.AdminListenAddr, &s.AdminListenAddr},
		{"mode", fs.Mode, &s.Mode},
		{"service_name", fs.ServiceName, &s.ServiceName},
	}
	for _, v := range strs {
		if tree.Has(v.key) {
			*v.dst = v.src
		}
	}

	if tree.Has("timeout_ms") {
		s.TimeoutMS = fs.TimeoutMS
	}
	if tree.Has("stop_timeout_ms") {
		s.StopTimeout = time.Duration(fs.StopTimeoutMS) * time.Millisecond
	}
	if tree.Has("shutdown_timeout_ms") {
		s.ShutdownTimeout = time.Duration(fs.ShutdownTimeoutMS) * time.Millisecond
	}

	for i, d := range fs.Direction {
		if d.Listen == "" || d.Target == "" {
			return errors.Errorf("direction[%d]: listen and target are both required", i)
		}
		s.Directions = append(s.Directions, rawDirection{Listen: d.Listen, Target: d.Target})
	}
	return nil
}
