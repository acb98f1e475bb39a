package motor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bapsf-motion/go-scl/logger"
)

// Drive defaults for STM23 series motors.
const (
	// DefaultPort is Applied Motion's TCP command port (7775 is the UDP port).
	DefaultPort = 7776

	// MaxCurrentAmps is the peak allowable running current of the drive.
	MaxCurrentAmps = 5.0

	// DefaultCurrentFraction is the default running current as a fraction of
	// MaxCurrentAmps.
	DefaultCurrentFraction = 0.8

	// DefaultIdleFraction is the default idle current as a fraction of the
	// running current.
	DefaultIdleFraction = 0.3

	// MaxIdleFraction is the highest idle current the drive accepts, as a
	// fraction of the running current.
	MaxIdleFraction = 0.9

	// DefaultSpeed is the speed (rev/s) applied during device configuration.
	DefaultSpeed = 4.0

	defaultMaxConnAttempts = 1
	defaultConnectTimeout  = 1 * time.Second
	defaultReadTimeout     = 1 * time.Second
	defaultDispatchTimeout = 5 * time.Second
)

// HeartRate holds the polling intervals of the heartbeat, selected by
// priority Paused > Searching > Active > Base.
type HeartRate struct {
	// Base is the interval while connected and idle.
	Base time.Duration
	// Active is the interval while the drive reports movement.
	Active time.Duration
	// Searching is the interval while disconnected.
	Searching time.Duration
	// Paused is the interval while the heartbeat is explicitly quiesced.
	Paused time.Duration
}

// DefaultHeartRate returns the stock heartbeat intervals.
func DefaultHeartRate() HeartRate {
	return HeartRate{
		Base:      1500 * time.Millisecond,
		Active:    200 * time.Millisecond,
		Searching: 3 * time.Second,
		Paused:    5 * time.Second,
	}
}

func (hr HeartRate) valid() bool {
	return hr.Base > 0 && hr.Active > 0 && hr.Searching > 0 && hr.Paused > 0
}

// Config holds the configuration parameters of a Motor actor.
type Config struct {
	mu sync.RWMutex

	// name identifies the motor in logs and persisted configs.
	name string

	// ip is the IPv4 address of the drive, dotted-quad form.
	ip string

	// port is the TCP command port of the drive. Defaults to DefaultPort.
	port int

	// maxConnAttempts bounds the retries of a direct Connect call. The
	// heartbeat ignores this bound and keeps searching indefinitely.
	// Defaults to 1.
	maxConnAttempts int

	// connectTimeout is the per-attempt dial timeout. Defaults to 1 second.
	connectTimeout time.Duration

	// readTimeout is the deadline applied to each socket read and write.
	// Defaults to 1 second.
	readTimeout time.Duration

	// dispatchTimeout bounds how long a cross-goroutine Send call waits for
	// its result. Exceeding it fails the caller without cancelling the
	// in-flight wire operation. Defaults to 5 seconds.
	dispatchTimeout time.Duration

	// heartrate holds the heartbeat intervals.
	heartrate HeartRate

	// limitMode is the limit-switch mode sent to the drive: 1 activated when
	// energized, 2 activated when de-energized, 3 no limits. Defaults to 1.
	limitMode int

	// current is the default running current as a fraction (0, 1] of
	// MaxCurrentAmps. Defaults to DefaultCurrentFraction.
	current float64

	// logger records actor events. Defaults to the global logger instance.
	logger logger.Logger
}

// NewConfig creates a motor configuration for the drive at the given IPv4
// address, with optional functional options applied on top of the defaults.
func NewConfig(ip string, opts ...Option) (*Config, error) {
	cfg := &Config{
		port:            DefaultPort,
		maxConnAttempts: defaultMaxConnAttempts,
		connectTimeout:  defaultConnectTimeout,
		readTimeout:     defaultReadTimeout,
		dispatchTimeout: defaultDispatchTimeout,
		heartrate:       DefaultHeartRate(),
		limitMode:       1,
		current:         DefaultCurrentFraction,
		logger:          logger.GetLogger(),
	}

	if err := withIP(ip).apply(cfg); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (cfg *Config) Name() string {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.name
}

func (cfg *Config) IP() string {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.ip
}

func (cfg *Config) Port() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.port
}

// Address returns the host:port dial target of the drive.
func (cfg *Config) Address() string {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return net.JoinHostPort(cfg.ip, fmt.Sprintf("%d", cfg.port))
}

func (cfg *Config) MaxConnAttempts() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.maxConnAttempts
}

func (cfg *Config) ConnectTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.connectTimeout
}

func (cfg *Config) ReadTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.readTimeout
}

func (cfg *Config) DispatchTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.dispatchTimeout
}

func (cfg *Config) HeartRate() HeartRate {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.heartrate
}

func (cfg *Config) LimitMode() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.limitMode
}

func (cfg *Config) Current() float64 {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.current
}

func (cfg *Config) Logger() logger.Logger {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.logger
}

// Option represents a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (o *optFunc) apply(cfg *Config) error { return o.applyFunc(cfg) }

func newOptFunc(name string, f func(*Config) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

var errConfigNil = errors.New("motor: config is nil")

// withIP validates and sets the drive's IPv4 address.
func withIP(ip string) Option {
	return newOptFunc("withIP", func(cfg *Config) error {
		if cfg == nil {
			return errConfigNil
		}

		parsed := net.ParseIP(ip)
		if parsed == nil || parsed.To4() == nil {
			return fmt.Errorf("motor: %q is not a valid IPv4 address", ip)
		}
		cfg.ip = ip

		return nil
	})
}

// WithName names the motor. The name appears in logs and in the persisted
// config snapshot.
func WithName(name string) Option {
	return newOptFunc("WithName", func(cfg *Config) error {
		if cfg == nil {
			return errConfigNil
		}

		cfg.name = name

		return nil
	})
}

// WithPort sets the TCP command port of the drive.
// An error is returned if the port is out of range [1, 65535].
func WithPort(port int) Option {
	return newOptFunc("WithPort", func(cfg *Config) error {
		if cfg == nil {
			return errConfigNil
		}

		if port < 1 || port > 65535 {
			return errors.New("motor: port is out of range [1, 65535]")
		}
		cfg.port = port

		return nil
	})
}

// WithMaxConnAttempts bounds how many dial attempts a direct Connect call
// makes before failing. The heartbeat retries on its own schedule regardless.
//
// The default value is 1.
func WithMaxConnAttempts(attempts int) Option {
	return newOptFunc("WithMaxConnAttempts", func(cfg *Config) error {
		if cfg == nil {
			return errConfigNil
		}

		if attempts < 1 {
			return errors.New("motor: max connection attempts must be at least 1")
		}
		cfg.maxConnAttempts = attempts

		return nil
	})
}

// WithConnectTimeout sets the per-attempt dial timeout.
// An error is returned if the timeout is outside the range [0.1, 30] seconds.
//
// The default value is 1 second.
func WithConnectTimeout(val time.Duration) Option {
	return newOptFunc("WithConnectTimeout", func(cfg *Config) error {
		if cfg == nil {
			return errConfigNil
		}

		if val < 100*time.Millisecond || val > 30*time.Second {
			return errors.New("motor: connect timeout out of range [0.1, 30] seconds")
		}
		cfg.connectTimeout = val

		return nil
	})
}

// WithReadTimeout sets the deadline applied to each socket read and write.
// An error is returned if the timeout is outside the range [0.1, 120] seconds.
//
// The default value is 1 second.
func WithReadTimeout(val time.Duration) Option {
	return newOptFunc("WithReadTimeout", func(cfg *Config) error {
		if cfg == nil {
			return errConfigNil
		}

		if val < 100*time.Millisecond || val > 120*time.Second {
			return errors.New("motor: read timeout out of range [0.1, 120] seconds")
		}
		cfg.readTimeout = val

		return nil
	})
}

// WithDispatchTimeout bounds how long a cross-goroutine Send call waits for
// its result. The in-flight wire operation is not cancelled on timeout.
//
// The default value is 5 seconds.
func WithDispatchTimeout(val time.Duration) Option {
	return newOptFunc("WithDispatchTimeout", func(cfg *Config) error {
		if cfg == nil {
			return errConfigNil
		}

		if val < 100*time.Millisecond || val > 120*time.Second {
			return errors.New("motor: dispatch timeout out of range [0.1, 120] seconds")
		}
		cfg.dispatchTimeout = val

		return nil
	})
}

// WithHeartRate sets the heartbeat polling intervals.
// An error is returned if any interval is not positive.
func WithHeartRate(hr HeartRate) Option {
	return newOptFunc("WithHeartRate", func(cfg *Config) error {
		if cfg == nil {
			return errConfigNil
		}

		if !hr.valid() {
			return errors.New("motor: heartrate intervals must be positive")
		}
		cfg.heartrate = hr

		return nil
	})
}

// WithLimitMode sets the limit-switch mode: 1 activated when energized,
// 2 activated when de-energized, 3 no limits. A value outside {1, 2, 3} is
// replaced by mode 1 with a warning, matching the drive's conservative
// default.
func WithLimitMode(mode int) Option {
	return newOptFunc("WithLimitMode", func(cfg *Config) error {
		if cfg == nil {
			return errConfigNil
		}

		if mode < 1 || mode > 3 {
			cfg.logger.Warn("assuming limit mode 1 for invalid limit mode",
				"limit_mode", mode)
			mode = 1
		}
		cfg.limitMode = mode

		return nil
	})
}

// WithCurrent sets the default running current as a fraction (0, 1] of
// MaxCurrentAmps.
func WithCurrent(fraction float64) Option {
	return newOptFunc("WithCurrent", func(cfg *Config) error {
		if cfg == nil {
			return errConfigNil
		}

		if fraction <= 0 || fraction > 1 {
			return errors.New("motor: current fraction out of range (0, 1]")
		}
		cfg.current = fraction

		return nil
	})
}

// WithLogger sets the logger for the motor actor.
//
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *Config) error {
		if cfg == nil {
			return errConfigNil
		}

		cfg.logger = l

		return nil
	})
}

// Snapshot is the serializable form of a motor configuration, suitable for
// persisting actor definitions to YAML files and restoring them later.
type Snapshot struct {
	Name      string  `yaml:"name"`
	IP        string  `yaml:"ip"`
	Port      int     `yaml:"port"`
	LimitMode int     `yaml:"limit_mode"`
	Current   float64 `yaml:"current"`
}

// Snapshot returns the serializable form of the configuration.
func (cfg *Config) Snapshot() Snapshot {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return Snapshot{
		Name:      cfg.name,
		IP:        cfg.ip,
		Port:      cfg.port,
		LimitMode: cfg.limitMode,
		Current:   cfg.current,
	}
}

// Config builds a full configuration from the snapshot, with opts applied on
// top of the restored values.
func (s Snapshot) Config(opts ...Option) (*Config, error) {
	restored := []Option{WithName(s.Name)}
	if s.Port != 0 {
		restored = append(restored, WithPort(s.Port))
	}
	if s.LimitMode != 0 {
		restored = append(restored, WithLimitMode(s.LimitMode))
	}
	if s.Current != 0 {
		restored = append(restored, WithCurrent(s.Current))
	}
	restored = append(restored, opts...)

	return NewConfig(s.IP, restored...)
}

// LoadConfigFile reads a YAML snapshot from path and builds a configuration
// from it, with opts applied on top.
func LoadConfigFile(path string, opts ...Option) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("motor: read config file: %w", err)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("motor: parse config file: %w", err)
	}

	return snap.Config(opts...)
}

// WriteFile persists the configuration snapshot as YAML at path.
func (cfg *Config) WriteFile(path string) error {
	data, err := yaml.Marshal(cfg.Snapshot())
	if err != nil {
		return fmt.Errorf("motor: marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("motor: write config file: %w", err)
	}

	return nil
}
