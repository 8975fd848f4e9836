package metrics

// RunRecorder observes diagnostic runs admitted by the HTTP API.
type RunRecorder interface {
	RunStarted()
	RunFinished()
	RunRejected()
}

type NoopRunRecorder struct{}

func (NoopRunRecorder) RunStarted()  {}
func (NoopRunRecorder) RunFinished() {}
func (NoopRunRecorder) RunRejected() {}

// SessionRecorder observes the size of the session registry.
type SessionRecorder interface {
	ObserveSessions(count int)
	IncSessionsExpired(n int)
}

type NoopSessionRecorder struct{}

func (NoopSessionRecorder) ObserveSessions(count int) {}
func (NoopSessionRecorder) IncSessionsExpired(n int)  {}
