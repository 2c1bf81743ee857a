package boost

import (
	"github.com/AkibHossainOmi/TutorMove-sub000/internal/models"
)

// transitions lists, for each state, the states it may move to. Requested
// and ScoreUpdated never hit storage; the rest are enforced by the store's
// conditional updates using sourcesOf.
var transitions = map[models.BoostState][]models.BoostState{
	models.BoostRequested:    {models.BoostValidated, models.BoostAborted},
	models.BoostValidated:    {models.BoostDebited, models.BoostAborted, models.BoostCompensating},
	models.BoostDebited:      {models.BoostScoreUpdated, models.BoostCommitted, models.BoostCompensating},
	models.BoostScoreUpdated: {models.BoostCommitted},
	// A record abandoned before its debit may be re-run, or compensated if
	// the debit landed after all.
	models.BoostAborted:      {models.BoostValidated, models.BoostCompensating},
	models.BoostCompensating: {models.BoostRolledBack},
}

func canTransition(from, to models.BoostState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// sourcesOf returns every state allowed to move to target.
func sourcesOf(target models.BoostState) []models.BoostState {
	var out []models.BoostState
	for from, tos := range transitions {
		if from == models.BoostRequested || from == models.BoostScoreUpdated {
			continue
		}
		for _, to := range tos {
			if to == target {
				out = append(out, from)
			}
		}
	}
	return out
}
