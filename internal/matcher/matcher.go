package matcher

import (
	"sort"

	"github.com/example/ride-tracking/internal/models"
)

const (
	seniorYear = 3

	oppositeGenderPenalty = 30
	yearDiffPenalty       = 10
	seniorityPenalty      = 40
	facultyBonus          = 15
)

// MatchResult lists every rule that failed; Compatible is true iff none did.
type MatchResult struct {
	Compatible bool     `json:"compatible"`
	Reasons    []string `json:"reasons"`
}

func oppositeGender(passenger, driver models.Profile) bool {
	return passenger.Gender != models.GenderUnknown && driver.Gender != models.GenderUnknown && passenger.Gender != driver.Gender
}

func bothStudentsWithYears(passenger, driver models.Profile) bool {
	return passenger.UserType == models.UserTypeStudent && driver.UserType == models.UserTypeStudent &&
		passenger.CurrentYear > 0 && driver.CurrentYear > 0
}

func isSenior(p models.Profile) bool { return p.CurrentYear >= seniorYear }

// IsMatch checks the hard preference rules for a passenger riding with a driver.
func IsMatch(passenger, driver models.Profile, passengerPrefs, driverPrefs models.Preferences) MatchResult {
	reasons := []string{}

	if oppositeGender(passenger, driver) {
		if !passengerPrefs.AcceptOppositeGender {
			reasons = append(reasons, "Passenger doesn't accept opposite gender")
		}
		if !driverPrefs.AcceptOppositeGender {
			reasons = append(reasons, "Driver doesn't accept opposite gender")
		}
	}

	if bothStudentsWithYears(passenger, driver) {
		pSenior, dSenior := isSenior(passenger), isSenior(driver)
		if !pSenior && dSenior && !passengerPrefs.AcceptSeniors {
			reasons = append(reasons, "Passenger (junior) doesn't accept rides with seniors")
		}
		if pSenior && !dSenior && !driverPrefs.AcceptSeniors {
			reasons = append(reasons, "Driver (junior) doesn't accept seniors as passengers")
		}
	}

	return MatchResult{Compatible: len(reasons) == 0, Reasons: reasons}
}

// Score returns a 0..100 compatibility heuristic. Deductions and bonuses are
// applied in full and the total is clamped once at the end.
func Score(passenger, driver models.Profile, passengerPrefs, driverPrefs models.Preferences) int {
	score := 100

	if oppositeGender(passenger, driver) && (!passengerPrefs.AcceptOppositeGender || !driverPrefs.AcceptOppositeGender) {
		score -= oppositeGenderPenalty
	}

	if bothStudentsWithYears(passenger, driver) {
		diff := passenger.CurrentYear - driver.CurrentYear
		if diff < 0 {
			diff = -diff
		}
		score -= diff * yearDiffPenalty

		pSenior, dSenior := isSenior(passenger), isSenior(driver)
		if !pSenior && dSenior && !passengerPrefs.AcceptSeniors {
			score -= seniorityPenalty
		}
		if pSenior && !dSenior && !driverPrefs.AcceptSeniors {
			score -= seniorityPenalty
		}
	}

	if passenger.UserType == models.UserTypeFaculty || driver.UserType == models.UserTypeFaculty {
		score += facultyBonus
	}

	return max(0, min(100, score))
}

// Candidate is one ride offered to a passenger.
type Candidate struct {
	RideID      string             `json:"ride_id"`
	Driver      models.Profile     `json:"driver"`
	DriverPrefs models.Preferences `json:"driver_prefs"`
}

type Ranked struct {
	RideID string `json:"ride_id"`
	Score  int    `json:"score"`
	MatchResult
}

// Rank orders candidate rides for a passenger: compatible rides first, then
// by descending score, then by ride id so the order is stable.
func Rank(passenger models.Profile, prefs models.Preferences, cands []Candidate) []Ranked {
	out := make([]Ranked, 0, len(cands))
	for _, c := range cands {
		out = append(out, Ranked{
			RideID:      c.RideID,
			Score:       Score(passenger, c.Driver, prefs, c.DriverPrefs),
			MatchResult: IsMatch(passenger, c.Driver, prefs, c.DriverPrefs),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Compatible != out[j].Compatible {
			return out[i].Compatible
		}
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].RideID < out[j].RideID
	})
	return out
}
