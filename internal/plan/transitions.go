package plan

type Event string

const (
	EventStart    Event = "start"
	EventSucceed  Event = "succeed"
	EventFail     Event = "fail"
	EventAbort    Event = "abort"
	EventComplete Event = "complete"
)

// nextStatus returns current unchanged for events the plan cannot take.
func nextStatus(current Status, event Event) Status {
	switch current {
	case StatusPending:
		if event == EventStart {
			return StatusRunning
		}
		if event == EventAbort {
			return StatusAborted
		}
	case StatusRunning:
		switch event {
		case EventComplete:
			return StatusCompleted
		case EventFail:
			return StatusFailed
		case EventAbort:
			return StatusAborted
		}
	}
	return current
}

func nextStepStatus(current StepStatus, event Event) StepStatus {
	switch current {
	case StepPending:
		if event == EventStart {
			return StepProcessing
		}
	case StepProcessing:
		if event == EventSucceed {
			return StepCompleted
		}
		if event == EventFail {
			return StepFailed
		}
	}
	return current
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}
