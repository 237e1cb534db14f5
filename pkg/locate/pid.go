package locate

// PIDConfig holds the heading controller gains.  Output is a differential duty.
type PIDConfig struct {
	Kp            float64 `yaml:"kp"`
	Ki            float64 `yaml:"ki"`
	Kd            float64 `yaml:"kd"`
	IntegralLimit float64 `yaml:"integralLimit"`
	OutputLimit   float64 `yaml:"outputLimit"`
}

type PID struct {
	cfg PIDConfig

	integral    float64
	prevError   float64
	initialized bool
}

func NewPID(cfg PIDConfig) *PID {
	return &PID{cfg: cfg}
}

func (p *PID) Reset() {
	p.integral = 0
	p.prevError = 0
	p.initialized = false
}

// Update returns the correction for err after dt seconds.
func (p *PID) Update(err float64, dt float64) float64 {
	if !p.initialized {
		p.prevError = err
		p.initialized = true
	}

	p.integral += err * dt
	p.integral = clamp(p.integral, p.cfg.IntegralLimit)

	var d float64
	if dt > 0 {
		d = p.cfg.Kd * (err - p.prevError) / dt
	}
	p.prevError = err

	return clamp(p.cfg.Kp*err+p.cfg.Ki*p.integral+d, p.cfg.OutputLimit)
}

func clamp(v, limit float64) float64 {
	if limit <= 0 {
		return v
	}
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
