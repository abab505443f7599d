package blefs

import (
	"time"

	"go.uber.org/zap"
)

// Defaults match the original pico peripheral.
const (
	DefaultAdvertiseName            = "pico2w_ble"
	DefaultAdvertiseInterval        = 2000 * time.Millisecond
	DefaultAdvertiseTimeout         = 30 * time.Second
	DefaultAppearance        uint16 = 0x0300 // generic thermometer
	DefaultPollInterval             = 500 * time.Millisecond
	DefaultCancelTimeout            = time.Second
	DefaultResetDelay               = time.Second

	// DefaultTransportUnit is the largest ATT attribute value.
	DefaultTransportUnit = 512
)

// Options configures a Peripheral.
type Options struct {
	Advertise AdvertiseParams

	PollInterval   time.Duration // liveness poll while connected
	CancelTimeout  time.Duration // bounded wait for the dispatcher on teardown
	ResetDelay     time.Duration // settle time around each radio power step
	ResponsePacing time.Duration // pause after each notification

	TransportUnit  int  // largest list/download response notified in one piece
	DownloadErrors bool // answer failed downloads with ERR: instead of silence
	VerifyDigest   bool // reject uploads whose MD5 does not match the hash

	Logger        *zap.Logger
	Metrics       *Metrics
	OnStateChange func(from, to State)
}

// Option is a functional option for configuring New.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Advertise: AdvertiseParams{
			Name:        DefaultAdvertiseName,
			Interval:    DefaultAdvertiseInterval,
			Timeout:     DefaultAdvertiseTimeout,
			ServiceUUID: ServiceUUID,
			Appearance:  DefaultAppearance,
		},
		PollInterval:  DefaultPollInterval,
		CancelTimeout: DefaultCancelTimeout,
		ResetDelay:    DefaultResetDelay,
		TransportUnit: DefaultTransportUnit,
		Logger:        zap.NewNop(),
	}
}

// WithAdvertiseName sets the advertised local name.
func WithAdvertiseName(name string) Option {
	return func(o *Options) { o.Advertise.Name = name }
}

// WithAdvertiseInterval sets the advertising interval.
func WithAdvertiseInterval(d time.Duration) Option {
	return func(o *Options) { o.Advertise.Interval = d }
}

// WithAdvertiseTimeout bounds each advertising window. Zero advertises
// until a peer connects.
func WithAdvertiseTimeout(d time.Duration) Option {
	return func(o *Options) { o.Advertise.Timeout = d }
}

// WithPollInterval sets how often the link liveness is checked.
func WithPollInterval(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.PollInterval = d
		}
	}
}

// WithCancelTimeout sets how long teardown waits for the dispatcher.
func WithCancelTimeout(d time.Duration) Option {
	return func(o *Options) { o.CancelTimeout = d }
}

// WithResetDelay sets the pause before, between and after the radio
// power steps.
func WithResetDelay(d time.Duration) Option {
	return func(o *Options) { o.ResetDelay = d }
}

// WithResponsePacing sets a pause after every notification.
func WithResponsePacing(d time.Duration) Option {
	return func(o *Options) { o.ResponsePacing = d }
}

// WithTransportUnit sets the largest response sent in one notification.
func WithTransportUnit(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.TransportUnit = n
		}
	}
}

// WithDownloadErrors makes failed downloads answer ERR:<reason>. By
// default a failed download produces no notification at all.
func WithDownloadErrors(enabled bool) Option {
	return func(o *Options) { o.DownloadErrors = enabled }
}

// WithVerifyDigest rejects uploads whose content MD5 differs from the
// declared hash.
func WithVerifyDigest(enabled bool) Option {
	return func(o *Options) { o.VerifyDigest = enabled }
}

// WithLogger sets the logger. Nil keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithMetrics records requests and state transitions.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithStateHook calls fn on every lifecycle transition, from the
// lifecycle goroutine.
func WithStateHook(fn func(from, to State)) Option {
	return func(o *Options) { o.OnStateChange = fn }
}
