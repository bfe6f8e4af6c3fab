package spec

// Status tracks a service through its lifecycle phases.
type Status string

const (
	StatusPending  Status = "pending"
	StatusBlocked  Status = "blocked"
	StatusStarting Status = "starting"
	StatusStarted  Status = "started"
	StatusHealthy  Status = "healthy"
	StatusFailed   Status = "failed"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
)

// Terminal reports whether s is a terminal phase: the service will make
// no further progress without an external restart request.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusStopped || s == StatusBlocked
}
