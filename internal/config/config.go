// Package config parses the pod server's configuration: CLI
// argument-pairs per spec §6, layered over an optional ini file (spec
// §6 "[ADDED]") via gopkg.in/ini.v1 — the library the teacher uses to
// parse EDS object-dictionary files, repurposed here for process
// configuration the way its pkg/config package layers sources.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"gopkg.in/ini.v1"

	"github.com/waterloop/podserver/internal/tcpacceptor"
	"github.com/waterloop/podserver/internal/udpsession"
)

// Config is the fully-resolved server configuration.
type Config struct {
	TCPAddress string
	BufferSize int

	CANInterface string
	CANChannel   string
	CANBitrate   int

	UDPReadTimeout  time.Duration
	CANReadTimeout  time.Duration
	MaxUDPTimeouts  int

	DiagnosticsAddr string
}

// Default returns the configuration the server falls back to with no
// CLI flags and no -config file.
func Default() Config {
	return Config{
		TCPAddress:      "0.0.0.0:8080",
		BufferSize:      tcpacceptor.DefaultBufferSize,
		CANInterface:    "virtualcan",
		CANChannel:      "127.0.0.1:18000",
		CANBitrate:      500000,
		UDPReadTimeout:  udpsession.DefaultReadTimeout,
		CANReadTimeout:  10 * time.Second,
		MaxUDPTimeouts:  udpsession.DefaultMaxTimeouts,
		DiagnosticsAddr: "127.0.0.1:8090",
	}
}

// ParseArgs builds a Config from CLI arguments, exactly mirroring the
// original Config::from_args pairing algorithm: args (including argv[0])
// must have odd length, and pairs are read back-to-front starting at the
// last element. Recognized flags: -a <ipv4:port>, -b <buffer_size>,
// -config <path to ini file>.
//
// A malformed pairing, an unrecognized -a/-b value, or an unreadable
// -config file is a usage error (spec §8 "Odd CLI argument count ⇒
// usage error"); the caller should treat it as fatal startup
// misconfiguration.
func ParseArgs(args []string) (Config, error) {
	cfg := Default()

	if len(args)%2 == 0 {
		return Config{}, fmt.Errorf("config: invalid arguments: expected an odd total count (program name plus flag/value pairs), got %d", len(args))
	}

	var configPath string

	i := len(args) - 1
	for i > 1 {
		flag := args[i-1]
		value := args[i]

		switch flag {
		case "-a":
			host, port, err := splitHostPort(value)
			if err != nil {
				return Config{}, fmt.Errorf("config: invalid -a argument %q: %w", value, err)
			}
			cfg.TCPAddress = net.JoinHostPort(host, port)
		case "-b":
			size, err := strconv.Atoi(value)
			if err != nil {
				return Config{}, fmt.Errorf("config: invalid -b argument %q: %w", value, err)
			}
			cfg.BufferSize = size
		case "-config":
			configPath = value
		}
		i -= 2
	}

	if configPath != "" {
		if err := applyIniFile(&cfg, configPath); err != nil {
			return Config{}, err
		}
		// Re-apply CLI pairs on top of the ini file so CLI flags always
		// take precedence, regardless of -config's position in argv.
		i := len(args) - 1
		for i > 1 {
			flag, value := args[i-1], args[i]
			switch flag {
			case "-a":
				host, port, _ := splitHostPort(value)
				cfg.TCPAddress = net.JoinHostPort(host, port)
			case "-b":
				size, err := strconv.Atoi(value)
				if err == nil {
					cfg.BufferSize = size
				}
			}
			i -= 2
		}
	}

	return cfg, nil
}

// splitHostPort validates the strict "##.##.##.##:port" form the
// original parser requires (four dot-separated IPv4 octets).
func splitHostPort(value string) (host string, port string, err error) {
	host, port, err = net.SplitHostPort(value)
	if err != nil {
		return "", "", fmt.Errorf("expected form <host>:<port>: %w", err)
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return "", "", fmt.Errorf("expected an IPv4 host, got %q", host)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return "", "", fmt.Errorf("invalid port %q: %w", port, err)
	}
	return host, port, nil
}

// applyIniFile layers the [can]/[timeouts]/[diagnostics] sections of an
// ini config file (spec §6) onto cfg. Missing keys keep their prior
// values.
func applyIniFile(cfg *Config, path string) error {
	file, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("config: loading %s: %w", path, err)
	}

	can := file.Section("can")
	if key := can.Key("interface"); key.String() != "" {
		cfg.CANInterface = key.String()
	}
	if key := can.Key("channel"); key.String() != "" {
		cfg.CANChannel = key.String()
	}
	if key := can.Key("bitrate"); key.String() != "" {
		bitrate, err := key.Int()
		if err != nil {
			return fmt.Errorf("config: %s: [can].bitrate: %w", path, err)
		}
		cfg.CANBitrate = bitrate
	}

	timeouts := file.Section("timeouts")
	if key := timeouts.Key("udp_ms"); key.String() != "" {
		ms, err := key.Int()
		if err != nil {
			return fmt.Errorf("config: %s: [timeouts].udp_ms: %w", path, err)
		}
		cfg.UDPReadTimeout = time.Duration(ms) * time.Millisecond
	}
	if key := timeouts.Key("can_ms"); key.String() != "" {
		ms, err := key.Int()
		if err != nil {
			return fmt.Errorf("config: %s: [timeouts].can_ms: %w", path, err)
		}
		cfg.CANReadTimeout = time.Duration(ms) * time.Millisecond
	}
	if key := timeouts.Key("max_udp_timeouts"); key.String() != "" {
		n, err := key.Int()
		if err != nil {
			return fmt.Errorf("config: %s: [timeouts].max_udp_timeouts: %w", path, err)
		}
		cfg.MaxUDPTimeouts = n
	}

	diagnostics := file.Section("diagnostics")
	if key := diagnostics.Key("http_addr"); key.String() != "" {
		cfg.DiagnosticsAddr = key.String()
	}

	return nil
}
