package observe

// Telemetry bundles the observability components consumed by the cache
// engine: a tracer for operation spans, a metrics recorder, and a logger.
type Telemetry struct {
	Tracer  Tracer
	Metrics Metrics
	Logger  Logger
}

// NewTelemetry creates a Telemetry bundle from an Observer.
func NewTelemetry(obs Observer) (*Telemetry, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Tracer:  NewTracer(obs.Tracer()),
		Metrics: metrics,
		Logger:  obs.Logger(),
	}, nil
}

// NopTelemetry returns a Telemetry bundle that discards everything.
func NopTelemetry() *Telemetry {
	return &Telemetry{
		Tracer:  NopTracer(),
		Metrics: NopMetrics(),
		Logger:  NopLogger(),
	}
}
