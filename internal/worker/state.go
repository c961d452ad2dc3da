package worker

// State is a step of the job pipeline
type State string

// Pipeline states. Failed is reachable from every state except Idle and
// Completing; Completing always follows a fetched job.
const (
	StateIdle               State = "idle"
	StateAwaitingJob        State = "awaiting_job"
	StateTriggering         State = "triggering"
	StateAwaitingQuiescence State = "awaiting_quiescence"
	StateLocating           State = "locating"
	StatePublishing         State = "publishing"
	StateUploading          State = "uploading"
	StateCompleting         State = "completing"
	StateFailed             State = "failed"
)

func (s State) String() string {
	return string(s)
}
