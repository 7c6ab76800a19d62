package stage

import "context"

// Health summarizes the readiness of a pipeline component.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// Checker reports the health of one component.
type Checker interface {
	HealthCheck(ctx context.Context) Health
}

// Probe adapts a function returning an error into a Checker.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthCheck runs the probe.
func (p Probe) HealthCheck(ctx context.Context) Health {
	if p.Check == nil {
		return Healthy(p.Name)
	}
	if err := p.Check(ctx); err != nil {
		return Unhealthy(p.Name, err.Error())
	}
	return Healthy(p.Name)
}
