package catman

type ElectionState int32

const (
	ElectionStateUnregistered ElectionState = iota
	ElectionStateVolunteering
	ElectionStateWatching
	ElectionStateLeader
	ElectionStateTerminal
)

func (s ElectionState) String() string {
	switch s {
	case ElectionStateUnregistered:
		return "unregistered"
	case ElectionStateVolunteering:
		return "volunteering"
	case ElectionStateWatching:
		return "watching"
	case ElectionStateLeader:
		return "leader"
	case ElectionStateTerminal:
		return "terminal"
	}
	return "invalid"
}
