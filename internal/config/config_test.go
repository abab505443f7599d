package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T, path string) *viper.Viper {
	t.Helper()
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	v := viper.New()
	Setup(v, path)
	require.NoError(t, ReadFile(v))
	return v
}

func TestLoad_Defaults(t *testing.T) {
	v := newViper(t, filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "hci0", cfg.Adapter)
	assert.Equal(t, "pico2w_ble", cfg.Advertise.Name)
	assert.Equal(t, 2*time.Second, cfg.Advertise.Interval)
	assert.Equal(t, 30*time.Second, cfg.Advertise.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Lifecycle.PollInterval)
	assert.Equal(t, time.Second, cfg.Lifecycle.CancelTimeout)
	assert.Equal(t, 512, cfg.Protocol.TransportUnit)
	assert.False(t, cfg.Protocol.DownloadErrors)
	assert.Equal(t, 4, cfg.Mirror.Concurrency)
	assert.Equal(t, filepath.Join(os.Getenv("XDG_DATA_HOME"), "blefs"), cfg.Store.Dir)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
adapter: hci1
advertise:
  name: shelf-display
  timeout: 45s
protocol:
  download_errors: true
`), 0o600))

	t.Setenv("BLEFS_LIFECYCLE_POLL_INTERVAL", "250ms")
	t.Setenv("BLEFS_ADVERTISE_NAME", "from-env")

	cfg, err := Load(newViper(t, path))
	require.NoError(t, err)

	assert.Equal(t, "hci1", cfg.Adapter)
	assert.Equal(t, "from-env", cfg.Advertise.Name)
	assert.Equal(t, 45*time.Second, cfg.Advertise.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Lifecycle.PollInterval)
	assert.True(t, cfg.Protocol.DownloadErrors)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]func(v *viper.Viper){
		"empty name":       func(v *viper.Viper) { v.Set("advertise.name", "") },
		"zero poll":        func(v *viper.Viper) { v.Set("lifecycle.poll_interval", 0) },
		"tiny unit":        func(v *viper.Viper) { v.Set("protocol.transport_unit", 8) },
		"bad format":       func(v *viper.Viper) { v.Set("logging.format", "xml") },
		"bad metrics addr": func(v *viper.Viper) { v.Set("metrics.addr", "nope") },
		"no concurrency":   func(v *viper.Viper) { v.Set("mirror.concurrency", 0) },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			v := newViper(t, filepath.Join(t.TempDir(), "absent.yaml"))
			mutate(v)

			_, err := Load(v)
			require.Error(t, err)

			var verrs validator.ValidationErrors
			assert.ErrorAs(t, err, &verrs)
		})
	}
}
