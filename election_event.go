package catman

type ElectionEvent int

const (
	ElectionEventVolunteerStart ElectionEvent = iota
	ElectionEventVolunteerComplete
	ElectionEventDetermineStart
	ElectionEventDetermineComplete
	ElectionEventRaceRetry
	ElectionEventWatching
	ElectionEventElected
	ElectionEventPredecessorRemoved
	ElectionEventFailed
	ElectionEventTerminated
)

var electionEventNames = [...]string{
	"volunteer_start",
	"volunteer_complete",
	"determine_start",
	"determine_complete",
	"race_retry",
	"watching",
	"elected",
	"predecessor_removed",
	"failed",
	"terminated",
}

func (e ElectionEvent) String() string {
	if e < 0 || int(e) >= len(electionEventNames) {
		return "unknown"
	}
	return electionEventNames[e]
}
