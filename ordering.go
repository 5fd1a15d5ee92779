package catman

import (
	"errors"
	"sort"

	"github.com/emirpasic/gods/sets/treeset"
	"github.com/emirpasic/gods/utils"
)

var (
	ErrNotInCandidates = errors.New("not in candidates")
)

type sequenced struct {
	id  CandidateID
	seq int64
}

var sequencedComparator = utils.Comparator(func(a interface{}, b interface{}) int {
	aAsserted := a.(sequenced)
	bAsserted := b.(sequenced)

	answer := utils.Int64Comparator(aAsserted.seq, bAsserted.seq)
	if answer != 0 {
		return answer
	}
	return utils.StringComparator(string(aAsserted.id), string(bAsserted.id))
})

// Order sorts ids ascending by sequence. Names that carry no sequence are not
// candidates and are dropped, duplicates collapse.
func Order(ids []CandidateID) []CandidateID {
	set := treeset.NewWith(sequencedComparator)
	for _, id := range ids {
		seq, err := id.Sequence()
		if err != nil {
			continue
		}
		set.Add(sequenced{id, seq})
	}
	sorted := make([]CandidateID, 0, set.Size())
	for _, v := range set.Values() {
		sorted = append(sorted, v.(sequenced).id)
	}
	return sorted
}

// IsLeader reports whether self is the first of sorted.
func IsLeader(self CandidateID, sorted []CandidateID) bool {
	return len(sorted) > 0 && sorted[0] == self
}

// PredecessorOf returns the candidate immediately before self in sorted.
// ok is false when self is first. sorted must come from Order.
func PredecessorOf(self CandidateID, sorted []CandidateID) (pred CandidateID, ok bool, err error) {
	seq, err := self.Sequence()
	if err != nil {
		return "", false, ErrNotInCandidates
	}
	key := sequenced{self, seq}
	i := sort.Search(len(sorted), func(i int) bool {
		s, _ := sorted[i].Sequence()
		return sequencedComparator(sequenced{sorted[i], s}, key) >= 0
	})
	if i == len(sorted) || sorted[i] != self {
		return "", false, ErrNotInCandidates
	}
	if i == 0 {
		return "", false, nil
	}
	return sorted[i-1], true, nil
}
