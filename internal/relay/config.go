package relay

import (
	"net"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3"
	"github.com/pion/transport/v3/stdnet"

	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/metrics"
)

// Net is the subset of transport.Net the engine uses to open sockets. Both
// stdnet.Net (real sockets) and vnet.Net (virtual network) satisfy it.
type Net interface {
	ListenUDP(network string, laddr *net.UDPAddr) (transport.UDPConn, error)
}

// DefaultReadBufferBytes is large enough for the biggest UDP payload that fits
// in an IPv4 or IPv6 datagram without jumbograms.
const DefaultReadBufferBytes = 64 * 1024

type Config struct {
	// Net opens sockets. Defaults to stdnet.
	Net Net

	// LoggerFactory provides the "relay" scoped logger. Defaults to pion's
	// DefaultLoggerFactory (stderr, level from PION_LOG_* env vars).
	LoggerFactory logging.LoggerFactory

	// Metrics receives relay event counters. Optional.
	Metrics *metrics.Metrics

	ReadBufferBytes int

	// SendTimeout bounds one-shot Send calls. Zero means the OS default.
	SendTimeout time.Duration

	// StopTimeout bounds how long StopRelaying waits for loops to exit. Zero
	// waits forever.
	StopTimeout time.Duration

	// DisableBroadcast skips setting SO_BROADCAST on relay sockets.
	DisableBroadcast bool
}

func DefaultConfig() Config {
	return Config{
		ReadBufferBytes: DefaultReadBufferBytes,
		StopTimeout:     10 * time.Second,
	}
}

func (c Config) withDefaults() (Config, error) {
	if c.Net == nil {
		n, err := stdnet.NewNet()
		if err != nil {
			return c, err
		}
		c.Net = n
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if c.ReadBufferBytes <= 0 {
		c.ReadBufferBytes = DefaultReadBufferBytes
	}
	if c.SendTimeout < 0 {
		c.SendTimeout = 0
	}
	if c.StopTimeout < 0 {
		c.StopTimeout = 0
	}
	return c, nil
}
