package tuning

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid tuning")

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`

	Client  Client  `yaml:"client"`
	Server  Server  `yaml:"server"`
	Physics Physics `yaml:"physics"`
}

type Client struct {
	JitterMarginTicks        int     `yaml:"jitter_margin_ticks"`
	TickErrorWindow          int     `yaml:"tick_error_window"`
	PredictionHorizonSeconds float64 `yaml:"prediction_horizon_seconds"`
	InputKeepaliveTicks      int     `yaml:"input_keepalive_ticks"`

	// Reconciliation: a predicted/live divergence whose length exceeds
	// SnapDistance is snapped, anything closer blends by BlendFactor.
	SnapDistance      float64 `yaml:"snap_distance"`
	BlendFactor       float64 `yaml:"blend_factor"`
	InteractionRadius float64 `yaml:"interaction_radius"`

	Correction Correction `yaml:"correction"`

	ShowServerGhosts bool `yaml:"show_server_ghosts"`
}

type Correction struct {
	StepsPerSecond  float64 `yaml:"steps_per_second"`
	PositionFactor  float64 `yaml:"position_factor"`
	RotationFactor  float64 `yaml:"rotation_factor"`
	PositionEpsilon float64 `yaml:"position_epsilon"`
	RotationEpsilon float64 `yaml:"rotation_epsilon"`
}

type Server struct {
	MaxPlayers        int     `yaml:"max_players"`
	InputBufferTicks  int     `yaml:"input_buffer_ticks"`
	InputLeadTicks    int     `yaml:"input_lead_ticks"`
	VisibilityRadius  float64 `yaml:"visibility_radius"`
	CompressThreshold int     `yaml:"compress_threshold"`
	InboundPerSecond  float64 `yaml:"inbound_per_second"`
	InboundBurst      int     `yaml:"inbound_burst"`
}

type Physics struct {
	Gravity      [2]float64 `yaml:"gravity"`
	MoveSpeed    float64    `yaml:"move_speed"`
	JumpVelocity float64    `yaml:"jump_velocity"`
	JumpHoldTime float64    `yaml:"jump_hold_time"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz: 60,
		Client: Client{
			JitterMarginTicks:        3,
			TickErrorWindow:          20,
			PredictionHorizonSeconds: 2,
			InputKeepaliveTicks:      10,
			SnapDistance:             100,
			BlendFactor:              0.1,
			InteractionRadius:        500,
			Correction: Correction{
				StepsPerSecond:  60,
				PositionFactor:  0.3,
				RotationFactor:  0.5,
				PositionEpsilon: 1,
				RotationEpsilon: 1e-3,
			},
		},
		Server: Server{
			MaxPlayers:        64,
			InputBufferTicks:  32,
			InputLeadTicks:    2,
			CompressThreshold: 512,
			InboundPerSecond:  240,
			InboundBurst:      480,
		},
		Physics: Physics{
			Gravity:      [2]float64{0, 9.81 * 128},
			MoveSpeed:    300,
			JumpVelocity: 500,
			JumpHoldTime: 0.15,
		},
	}
}

// Load reads a YAML tuning file. Keys absent from the file keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

func (t Tuning) Validate() error {
	bad := func(field string, v any) error {
		return fmt.Errorf("%w: %s=%v", ErrInvalid, field, v)
	}
	switch {
	case t.TickRateHz <= 0:
		return bad("tick_rate_hz", t.TickRateHz)
	case t.Client.JitterMarginTicks < 0:
		return bad("client.jitter_margin_ticks", t.Client.JitterMarginTicks)
	case t.Client.TickErrorWindow <= 0:
		return bad("client.tick_error_window", t.Client.TickErrorWindow)
	case t.Client.PredictionHorizonSeconds <= 0:
		return bad("client.prediction_horizon_seconds", t.Client.PredictionHorizonSeconds)
	case t.Client.InputKeepaliveTicks <= 0:
		return bad("client.input_keepalive_ticks", t.Client.InputKeepaliveTicks)
	case t.Client.SnapDistance <= 0:
		return bad("client.snap_distance", t.Client.SnapDistance)
	case t.Client.BlendFactor <= 0 || t.Client.BlendFactor > 1:
		return bad("client.blend_factor", t.Client.BlendFactor)
	case t.Client.Correction.StepsPerSecond <= 0:
		return bad("client.correction.steps_per_second", t.Client.Correction.StepsPerSecond)
	case t.Client.InteractionRadius <= 0:
		return bad("client.interaction_radius", t.Client.InteractionRadius)
	case t.Client.Correction.PositionFactor <= 0 || t.Client.Correction.PositionFactor > 1:
		return bad("client.correction.position_factor", t.Client.Correction.PositionFactor)
	case t.Client.Correction.RotationFactor <= 0 || t.Client.Correction.RotationFactor > 1:
		return bad("client.correction.rotation_factor", t.Client.Correction.RotationFactor)
	case t.Client.Correction.PositionEpsilon <= 0:
		return bad("client.correction.position_epsilon", t.Client.Correction.PositionEpsilon)
	case t.Client.Correction.RotationEpsilon <= 0:
		return bad("client.correction.rotation_epsilon", t.Client.Correction.RotationEpsilon)
	case t.Server.InputBufferTicks <= 0:
		return bad("server.input_buffer_ticks", t.Server.InputBufferTicks)
	case t.Server.InputLeadTicks < 0 || t.Server.InputLeadTicks >= t.Server.InputBufferTicks:
		return bad("server.input_lead_ticks", t.Server.InputLeadTicks)
	}
	return nil
}

func (t Tuning) TickDuration() time.Duration {
	return time.Second / time.Duration(t.TickRateHz)
}

// TickSeconds is the fixed step handed to the physics world.
func (t Tuning) TickSeconds() float64 {
	return 1 / float64(t.TickRateHz)
}

// HorizonTicks converts the prediction horizon into a tick count.
func (t Tuning) HorizonTicks() int {
	return int(math.Ceil(t.Client.PredictionHorizonSeconds * float64(t.TickRateHz)))
}
