package catman

// LeaderOffer is a registered candidate together with the payload it
// volunteered with.
type LeaderOffer struct {
	id   CandidateID
	data []byte
}

func NewLeaderOffer(id CandidateID, data []byte) *LeaderOffer {
	return &LeaderOffer{id, data}
}

func (l *LeaderOffer) ID() CandidateID {
	return l.id
}

func (l *LeaderOffer) Data() []byte {
	return l.data
}
