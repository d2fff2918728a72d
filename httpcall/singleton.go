package httpcall

import (
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/korelabs/asynchttp/errors"
	"github.com/korelabs/asynchttp/logger"
	"github.com/korelabs/asynchttp/resilience"
)

// Settings configures the HTTP runtime.
type Settings struct {
	// Logging configures the runtime's structured logging.
	Logging logger.Config `yaml:"logging" mapstructure:"logging"`

	// UserAgent overrides the default User-Agent header.
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`

	// TimeoutWindow is the default total budget per call including retries.
	// Defaults to 20s.
	TimeoutWindow time.Duration `yaml:"timeout_window" mapstructure:"timeout_window"`

	// RetryDelay is the default delay before a call's first retry.
	// Defaults to 2s.
	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`

	// TLS configures the backend's transport.
	TLS *TLSConfig `yaml:"tls" mapstructure:"tls"`

	// EnableHTTP2 negotiates HTTP/2 on the backend transport.
	EnableHTTP2 bool `yaml:"enable_http2" mapstructure:"enable_http2"`

	// Auth is applied by the backend to every outgoing request.
	Auth *AuthConfig `yaml:"-" mapstructure:"-"`

	// CircuitBreaker, when set, wraps backend attempts in a breaker.
	CircuitBreaker *resilience.CircuitBreakerConfig `yaml:"-" mapstructure:"-"`

	// Backend replaces the default net/http backend. Mostly for embedders
	// that bring their own platform transport.
	Backend Backend `yaml:"-" mapstructure:"-"`
}

// ApplyDefaults fills in zero-value fields.
func (s *Settings) ApplyDefaults() {
	s.Logging.ApplyDefaults()
	if s.TimeoutWindow <= 0 {
		s.TimeoutWindow = resilience.DefaultWindow
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = resilience.DefaultBaseDelay
	}
}

// Validate checks that the settings are consistent.
func (s *Settings) Validate() error {
	if err := s.Logging.Validate(); err != nil {
		return apperrors.InvalidArg(err.Error())
	}
	return nil
}

// Runtime is the process-wide HTTP runtime: settings, backend, perform
// hook, mock engine, and the call id counter. It is explicitly constructed
// by GlobalInitialize and destroyed by GlobalCleanup; there is no lazy
// initialization, and using the API without it fails with NOT_INITIALISED.
type Runtime struct {
	settings  Settings
	log       *logger.Logger
	backend   Backend
	performFn PerformFunc
	breaker   *resilience.CircuitBreaker

	lastCallID atomic.Uint64
	mocks      mockEngine
}

var (
	singletonMu sync.Mutex
	singleton   *Runtime
)

// GlobalInitialize constructs the runtime singleton. Calling it while the
// runtime is already initialized fails with UNEXPECTED; pair every
// initialize with a GlobalCleanup.
func GlobalInitialize(s Settings) error {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		return apperrors.Unexpected("runtime is already initialized")
	}

	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return err
	}

	backend := s.Backend
	if backend == nil {
		var err error
		backend, err = newNetHTTPBackend(s)
		if err != nil {
			return apperrors.Fail(err)
		}
	}

	rt := &Runtime{
		settings:  s,
		log:       logger.New(&s.Logging, "httpcall"),
		backend:   backend,
		performFn: backend.Perform,
	}
	if s.CircuitBreaker != nil {
		rt.breaker = resilience.NewCircuitBreaker(*s.CircuitBreaker)
	}

	singleton = rt
	rt.log.Debug("runtime initialized")
	return nil
}

// GlobalCleanup tears the runtime down: mocks are cleared and released and
// the singleton is destroyed. In-flight calls must have completed or been
// canceled first.
func GlobalCleanup() {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton == nil {
		return
	}
	singleton.mocks.clear()
	singleton.log.Debug("runtime cleaned up")
	singleton = nil
}

// instance returns the runtime or NOT_INITIALISED.
func instance() (*Runtime, error) {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton == nil {
		return nil, apperrors.NotInitialised()
	}
	return singleton, nil
}

func (rt *Runtime) nextCallID() uint64 {
	return rt.lastCallID.Add(1)
}

func (rt *Runtime) defaultRetryPolicy() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		Allowed:   true,
		BaseDelay: rt.settings.RetryDelay,
		Window:    rt.settings.TimeoutWindow,
	}
}

// SetPerformCallback replaces the transport invoked for every non-mocked
// attempt. Passing nil restores the configured backend.
func SetPerformCallback(fn PerformFunc) error {
	rt, err := instance()
	if err != nil {
		return err
	}
	if fn == nil {
		rt.performFn = rt.backend.Perform
	} else {
		rt.performFn = fn
	}
	return nil
}
