package model

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand/v2"

	"github.com/google/uuid"
)

// QuestionOrder returns the per-session permutation of a section's n
// questions: position i shows authored question order[i]. It is seeded from the
// session and section ids, so it never needs to be stored.
func QuestionOrder(sessionID, sectionID uuid.UUID, n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	rng := rand.New(rand.NewPCG(orderSeed(sessionID, sectionID)))
	rng.Shuffle(n, func(a, b int) { order[a], order[b] = order[b], order[a] })
	return order
}

// QuestionAt resolves a 1-based (section, question) position as the student
// sees it to the authored question.
func (a *Assessment) QuestionAt(sessionID uuid.UUID, section, question int) (*Section, *Question, bool) {
	sec, ok := a.SectionByOrder(section)
	if !ok || question < 1 || question > len(sec.Questions) {
		return sec, nil, false
	}
	idx := QuestionOrder(sessionID, sec.ID, len(sec.Questions))[question-1]
	return sec, &sec.Questions[idx], true
}

func orderSeed(sessionID, sectionID uuid.UUID) (uint64, uint64) {
	h := fnv.New64a()
	h.Write(sessionID[:])
	h.Write(sectionID[:])
	hi := h.Sum64()
	return hi, binary.BigEndian.Uint64(sessionID[8:]) ^ hi
}
