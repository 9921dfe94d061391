package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_Valid(t *testing.T) {
	d := Defaults()
	require.NoError(t, d.Validate())
	assert.Equal(t, 120, d.HorizonTicks())
	assert.Equal(t, time.Second/60, d.TickDuration())
}

func TestLoad_OverridesKeepDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(p, []byte("tick_rate_hz: 30\nclient:\n  blend_factor: 0.25\n"), 0o644))

	tu, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 30, tu.TickRateHz)
	assert.Equal(t, 0.25, tu.Client.BlendFactor)
	assert.Equal(t, 100.0, tu.Client.SnapDistance)
	assert.Equal(t, 60, tu.HorizonTicks())
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"blend_factor":     "client:\n  blend_factor: 2\n",
		"position_factor":  "client:\n  correction:\n    position_factor: 0\n",
		"rotation_factor":  "client:\n  correction:\n    rotation_factor: 0\n",
		"position_epsilon": "client:\n  correction:\n    position_epsilon: -1\n",
		"rotation_epsilon": "client:\n  correction:\n    rotation_epsilon: 0\n",
		"interaction":      "client:\n  interaction_radius: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "tuning.yaml")
			require.NoError(t, os.WriteFile(p, []byte(body), 0o644))

			_, err := Load(p)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, os.IsNotExist(err))
}
