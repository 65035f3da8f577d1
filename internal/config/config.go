package config

import (
	"flag"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/applog"
	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/relay"
)

const (
	envVarConfigFile      = "UDP_RELAY_CONFIG"
	envVarListeningClient = "UDP_RELAY_LISTENING_CLIENT"
	envVarSendingClient   = "UDP_RELAY_SENDING_CLIENT"
	envVarListeningServer = "UDP_RELAY_LISTENING_SERVER"
	envVarSendingServer   = "UDP_RELAY_SENDING_SERVER"
	envVarTimeoutMS       = "UDP_RELAY_TIMEOUT_MS"
	envVarLogLevel        = "UDP_RELAY_LOG_LEVEL"
	envVarLogFormat       = "UDP_RELAY_LOG_FORMAT"
	envVarLogFile         = "UDP_RELAY_LOG_FILE"
	envVarAdminListenAddr = "UDP_RELAY_ADMIN_LISTEN_ADDR"
	envVarStopTimeout     = "UDP_RELAY_STOP_TIMEOUT"
	envVarShutdownTimeout = "UDP_RELAY_SHUTDOWN_TIMEOUT"
	envVarMode            = "UDP_RELAY_MODE"
	envVarServiceName     = "UDP_RELAY_SERVICE_NAME"
)

const (
	DefaultMode            Mode = ModeDev
	DefaultStopTimeout          = 10 * time.Second
	DefaultShutdownTimeout      = 15 * time.Second
	DefaultServiceName          = "UDPRelay"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Direction is one listen -> target forwarding pair.
type Direction struct {
	Listen relay.Endpoint
	Target relay.Endpoint
}

func (d Direction) String() string {
	return d.Listen.String() + " -> " + d.Target.String()
}

type Config struct {
	// ConfigFile is the TOML settings file that was loaded, if any.
	ConfigFile string

	// The client/server pair. Traffic arriving on ListeningClient goes to
	// SendingServer; traffic arriving on ListeningServer goes to SendingClient.
	ListeningClient relay.Endpoint
	SendingClient   relay.Endpoint
	ListeningServer relay.Endpoint
	SendingServer   relay.Endpoint

	// ExtraDirections come from [[direction]] tables in the settings file.
	ExtraDirections []Direction

	// Timeout bounds one-shot sends and receives. Zero means no bound.
	Timeout time.Duration

	LogLevel  slog.Level
	LogFormat LogFormat
	// LogFile, when set, receives a copy of every log line (append mode).
	LogFile string

	// AdminListenAddr is the admin HTTP listen address. Empty disables it.
	AdminListenAddr string

	StopTimeout     time.Duration
	ShutdownTimeout time.Duration
	Mode            Mode
	ServiceName     string

	// Interactive stops the console host when a line is read from stdin.
	Interactive bool
}

// Directions returns every configured forwarding pair, the client/server pair
// first.
func (c Config) Directions() []Direction {
	var out []Direction
	if c.ListeningClient.IsValid() && c.SendingServer.IsValid() {
		out = append(out, Direction{Listen: c.ListeningClient, Target: c.SendingServer})
	}
	if c.ListeningServer.IsValid() && c.SendingClient.IsValid() {
		out = append(out, Direction{Listen: c.ListeningServer, Target: c.SendingClient})
	}
	return append(out, c.ExtraDirections...)
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

// load resolves settings with precedence defaults < settings file <
// environment < flags that were set explicitly.
func load(lookup func(string) (string, bool), args []string) (Config, error) {
	fs := flag.NewFlagSet("udp-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		configFile      string
		listeningClient string
		sendingClient   string
		listeningServer string
		sendingServer   string
		timeoutMS       int
		logLevelStr     string
		logFormatStr    string
		logFile         string
		adminListenAddr string
		stopTimeout     time.Duration
		shutdownTimeout time.Duration
		modeStr         string
		serviceName     string
		interactive     bool
	)
	fs.StringVar(&configFile, "config", "", "TOML settings file (env "+envVarConfigFile+")")
	fs.StringVar(&listeningClient, "listening-client", "", "Endpoint the client sends to (ip:port)")
	fs.StringVar(&sendingClient, "sending-client", "", "Endpoint replies are forwarded to (ip:port)")
	fs.StringVar(&listeningServer, "listening-server", "", "Endpoint the server replies to (ip:port)")
	fs.StringVar(&sendingServer, "sending-server", "", "Endpoint client traffic is forwarded to (ip:port)")
	fs.IntVar(&timeoutMS, "timeout-ms", 0, "Send/receive timeout in milliseconds (0 = none)")
	fs.StringVar(&logLevelStr, "log-level", "", "Log level: trace, debug, info, warn, error")
	fs.StringVar(&logFormatStr, "log-format", "", "Log format: text or json")
	fs.StringVar(&logFile, "log-file", "", "Append logs to this file as well as stdout")
	fs.StringVar(&adminListenAddr, "admin-listen-addr", "", "Admin HTTP listen address (empty disables)")
	fs.DurationVar(&stopTimeout, "stop-timeout", 0, "Max time to wait for relay tasks to exit (0 = forever)")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", 0, "Graceful admin server shutdown timeout")
	fs.StringVar(&modeStr, "mode", "", "Run mode: dev or prod")
	fs.StringVar(&serviceName, "service-name", "", "Windows service name")
	fs.BoolVar(&interactive, "interactive", false, "Stop when Enter is pressed")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	// Layer 1: defaults.
	s := settings{
		StopTimeout:     DefaultStopTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		ServiceName:     DefaultServiceName,
	}

	// Layer 2: settings file.
	if !setFlags["config"] {
		configFile = envOrDefault(lookup, envVarConfigFile, "")
	}
	if configFile != "" {
		if err := s.loadFile(configFile); err != nil {
			return Config{}, err
		}
	}

	// Layer 3: environment.
	if err := s.applyEnv(lookup); err != nil {
		return Config{}, err
	}

	// Layer 4: explicit flags.
	flagStrings := map[string]*string{
		"listening-client":  &s.ListeningClient,
		"sending-client":    &s.SendingClient,
		"listening-server":  &s.ListeningServer,
		"sending-server":    &s.SendingServer,
		"log-level":         &s.LogLevel,
		"log-format":        &s.LogFormat,
		"log-file":          &s.LogFile,
		"admin-listen-addr": &s.AdminListenAddr,
		"mode":              &s.Mode,
		"service-name":      &s.ServiceName,
	}
	flagValues := map[string]string{
		"listening-client":  listeningClient,
		"sending-client":    sendingClient,
		"listening-server":  listeningServer,
		"sending-server":    sendingServer,
		"log-level":         logLevelStr,
		"log-format":        logFormatStr,
		"log-file":          logFile,
		"admin-listen-addr": adminListenAddr,
		"mode":              modeStr,
		"service-name":      serviceName,
	}
	for name, dst := range flagStrings {
		if setFlags[name] {
			*dst = flagValues[name]
		}
	}
	if setFlags["timeout-ms"] {
		s.TimeoutMS = int64(timeoutMS)
	}
	if setFlags["stop-timeout"] {
		s.StopTimeout = stopTimeout
	}
	if setFlags["shutdown-timeout"] {
		s.ShutdownTimeout = shutdownTimeout
	}

	cfg, err := s.resolve()
	if err != nil {
		return Config{}, err
	}
	cfg.ConfigFile = configFile
	cfg.Interactive = interactive
	return cfg, nil
}

// settings holds raw, not yet validated values while the layers are merged.
type settings struct {
	ListeningClient string
	SendingClient   string
	ListeningServer string
	SendingServer   string
	Directions      []rawDirection
	TimeoutMS       int64
	LogLevel        string
	LogFormat       string
	LogFile         string
	AdminListenAddr string
	StopTimeout     time.Duration
	ShutdownTimeout time.Duration
	Mode            string
	ServiceName     string
}

type rawDirection struct {
	Listen string
	Target string
}

func (s *settings) applyEnv(lookup func(string) (string, bool)) error {
	s.ListeningClient = envOrDefault(lookup, envVarListeningClient, s.ListeningClient)
	s.SendingClient = envOrDefault(lookup, envVarSendingClient, s.SendingClient)
	s.ListeningServer = envOrDefault(lookup, envVarListeningServer, s.ListeningServer)
	s.SendingServer = envOrDefault(lookup, envVarSendingServer, s.SendingServer)
	s.LogLevel = envOrDefault(lookup, envVarLogLevel, s.LogLevel)
	s.LogFormat = envOrDefault(lookup, envVarLogFormat, s.LogFormat)
	s.LogFile = envOrDefault(lookup, envVarLogFile, s.LogFile)
	s.Mode = envOrDefault(lookup, envVarMode, s.Mode)
	s.ServiceName = envOrDefault(lookup, envVarServiceName, s.ServiceName)
	if v, ok := lookup(envVarAdminListenAddr); ok {
		// Set-but-empty disables the admin server.
		s.AdminListenAddr = strings.TrimSpace(v)
	}

	timeoutMS, err := envIntOrDefault(lookup, envVarTimeoutMS, int(s.TimeoutMS))
	if err != nil {
		return err
	}
	s.TimeoutMS = int64(timeoutMS)

	if s.StopTimeout, err = envDurationOrDefault(lookup, envVarStopTimeout, s.StopTimeout); err != nil {
		return err
	}
	if s.ShutdownTimeout, err = envDurationOrDefault(lookup, envVarShutdownTimeout, s.ShutdownTimeout); err != nil {
		return err
	}
	return nil
}

func (s settings) resolve() (Config, error) {
	mode, err := parseMode(strOr(s.Mode, string(DefaultMode)))
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(strOr(s.LogFormat, defaultLogFormatForMode(mode)))
	if err != nil {
		return Config{}, err
	}
	logLevel, err := applog.ParseLevel(strOr(s.LogLevel, defaultLogLevelForMode(mode)))
	if err != nil {
		return Config{}, err
	}

	if s.TimeoutMS < 0 {
		return Config{}, errors.Errorf("timeout_ms must be >= 0, got %d", s.TimeoutMS)
	}
	if s.StopTimeout < 0 {
		return Config{}, errors.Errorf("stop timeout must be >= 0, got %s", s.StopTimeout)
	}
	if s.ShutdownTimeout <= 0 {
		return Config{}, errors.Errorf("shutdown timeout must be > 0, got %s", s.ShutdownTimeout)
	}
	if strings.TrimSpace(s.ServiceName) == "" {
		return Config{}, errors.New("service name must not be empty")
	}

	cfg := Config{
		Timeout:         time.Duration(s.TimeoutMS) * time.Millisecond,
		LogLevel:        logLevel,
		LogFormat:       logFormat,
		LogFile:         strings.TrimSpace(s.LogFile),
		AdminListenAddr: s.AdminListenAddr,
		StopTimeout:     s.StopTimeout,
		ShutdownTimeout: s.ShutdownTimeout,
		Mode:            mode,
		ServiceName:     strings.TrimSpace(s.ServiceName),
	}

	endpoints := []struct {
		name string
		raw  string
		dst  *relay.Endpoint
	}{
		{"listening_client", s.ListeningClient, &cfg.ListeningClient},
		{"sending_client", s.SendingClient, &cfg.SendingClient},
		{"listening_server", s.ListeningServer, &cfg.ListeningServer},
		{"sending_server", s.SendingServer, &cfg.SendingServer},
	}
	for _, ep := range endpoints {
		if strings.TrimSpace(ep.raw) == "" {
			continue
		}
		v, err := relay.ParseEndpoint(strings.TrimSpace(ep.raw))
		if err != nil {
			return Config{}, errors.Wrap(err, ep.name)
		}
		*ep.dst = v
	}

	if cfg.ListeningClient.IsValid() != cfg.SendingServer.IsValid() {
		return Config{}, errors.New("listening_client and sending_server must be set together")
	}
	if cfg.ListeningServer.IsValid() != cfg.SendingClient.IsValid() {
		return Config{}, errors.New("listening_server and sending_client must be set together")
	}

	for i, d := range s.Directions {
		listen, err := relay.ParseEndpoint(strings.TrimSpace(d.Listen))
		if err != nil {
			return Config{}, errors.Wrapf(err, "direction[%d].listen", i)
		}
		target, err := relay.ParseEndpoint(strings.TrimSpace(d.Target))
		if err != nil {
			return Config{}, errors.Wrapf(err, "direction[%d].target", i)
		}
		cfg.ExtraDirections = append(cfg.ExtraDirections, Direction{Listen: listen, Target: target})
	}

	if len(cfg.Directions()) == 0 {
		return Config{}, errors.New("no relay directions configured (set listening_client/sending_server, listening_server/sending_client or [[direction]])")
	}
	return cfg, nil
}

func strOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s %q", key, raw)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s %q", key, raw)
	}
	return d, nil
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", errors.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", errors.Errorf("invalid log format %q (expected text or json)", raw)
	}
}
