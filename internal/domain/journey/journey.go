// Package journey computes a contributor's progression through an ordered
// ladder configuration by replaying their event history.
package journey

import (
	"math"
	"time"

	"github.com/okian/trellis/internal/domain/model"
)

// hoursPerDay converts step durations to whole days.
const hoursPerDay = 24

// Compute replays events (which must be sorted ascending by CreatedAt,
// ties broken by EventID) against the ordered ladder configuration and
// returns the tier-transition timeline.
//
// A running counter per event type drives qualification. After each event
// the next tier is checked; the first requirement in configured order
// whose counter reaches its threshold qualifies the contributor. When a
// single event clears several tiers at once, every intermediate tier
// still gets a zero-duration step bounded by that event on both sides.
// The final open step is closed against refEnd, the reference clock's
// end date, so an ongoing step has a duration too.
//
// An empty ladder configuration yields an empty journey.
func Compute(events []model.Event, ladders []model.Ladder, refEnd time.Time) []model.JourneyStep {
	if len(ladders) == 0 || len(events) == 0 {
		return nil
	}

	var (
		journey []model.JourneyStep
		counts  = make(map[string]int)
		current = -1 // index into ladders; -1 = below the first tier
	)

	for i := range events {
		ev := &events[i]
		counts[ev.Type]++

		transitioned := false
		for current+1 < len(ladders) {
			met, ok := requirementMet(ladders[current+1], counts)
			if !ok {
				break
			}
			if len(journey) > 0 {
				closeStep(&journey[len(journey)-1], ev.CreatedAt)
			}
			current++
			transitioned = true
			journey = append(journey, openStep(ladders[current].ID, ev, met))
		}

		// The triggering event is already counted by the step it opened.
		if !transitioned && current >= 0 {
			last := &journey[len(journey)-1]
			last.EventsInStep++
			last.LastEventID = ev.EventID
			last.LastEventType = ev.Type
			last.LastEventDate = ev.CreatedAt
		}
	}

	// The contributor is still in the last step; measure it against the
	// reference end date instead of leaving it open-ended.
	if len(journey) > 0 {
		last := &journey[len(journey)-1]
		last.TimeInStepDays = wholeDays(last.StepJoined, refEnd)
	}

	return journey
}

// requirementMet scans the ladder's requirements in configured order and
// returns the first one satisfied by counts.
func requirementMet(ladder model.Ladder, counts map[string]int) (model.RequirementMet, bool) {
	for _, req := range ladder.Requirements {
		if achieved := counts[req.EventType]; achieved >= req.Min {
			return model.RequirementMet{
				EventType: req.EventType,
				Min:       req.Min,
				Achieved:  achieved,
			}, true
		}
	}
	return model.RequirementMet{}, false
}

func openStep(ladderID string, ev *model.Event, met model.RequirementMet) model.JourneyStep {
	return model.JourneyStep{
		LadderID:       ladderID,
		StepJoined:     ev.CreatedAt,
		FirstEventID:   ev.EventID,
		FirstEventType: ev.Type,
		FirstEventDate: ev.CreatedAt,
		LastEventID:    ev.EventID,
		LastEventType:  ev.Type,
		LastEventDate:  ev.CreatedAt,
		EventsInStep:   1,
		RequirementMet: met,
	}
}

func closeStep(step *model.JourneyStep, left time.Time) {
	t := left
	step.StepLeft = &t
	step.TimeInStepDays = wholeDays(step.StepJoined, left)
}

// wholeDays returns the rounded day difference between two timestamps.
func wholeDays(from, to time.Time) int {
	return int(math.Round(to.Sub(from).Hours() / hoursPerDay))
}
