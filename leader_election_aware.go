package catman

// Called during each state transition. Volunteering is bracketed by
// VOLUNTEER_START and VOLUNTEER_COMPLETE, every election cycle by
// DETERMINE_START and DETERMINE_COMPLETE, followed by WATCHING or ELECTED.
// Listeners run on the goroutine driving the election and must not block.
type LeaderElectionAware interface {
	OnElectionEvent(event ElectionEvent)
}

var _ LeaderElectionAware = LeaderElectionAwareFunc(nil)

type LeaderElectionAwareFunc func(event ElectionEvent)

func (l LeaderElectionAwareFunc) OnElectionEvent(event ElectionEvent) {
	l(event)
}
