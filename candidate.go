package catman

import (
	"errors"
	"strconv"
	"strings"
)

var (
	ErrBadCandidate = errors.New("candidate id has no sequence suffix")
)

// CandidateID is the name the coordination service assigned to a registration,
// relative to the election namespace, e.g. "c_0000000003".
type CandidateID string

func (id CandidateID) String() string {
	return string(id)
}

// Sequence returns the numeric suffix that orders id among its siblings.
func (id CandidateID) Sequence() (int64, error) {
	name := string(id)
	idx := len(name)
	for idx > 0 && name[idx-1] >= '0' && name[idx-1] <= '9' {
		idx--
	}
	if idx == len(name) {
		return 0, ErrBadCandidate
	}
	seq, err := strconv.ParseInt(name[idx:], 10, 64)
	if err != nil {
		return 0, ErrBadCandidate
	}
	return seq, nil
}

// candidateFromPath strips the namespace from a full node path.
func candidateFromPath(namespace, path string) CandidateID {
	return CandidateID(strings.TrimPrefix(path, strings.TrimSuffix(namespace, "/")+"/"))
}

func candidatePath(namespace string, id CandidateID) string {
	return strings.TrimSuffix(namespace, "/") + "/" + string(id)
}
