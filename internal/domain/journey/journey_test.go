package journey_test

import (
	"testing"
	"time"

	"github.com/okian/trellis/internal/domain/journey"
	"github.com/okian/trellis/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func event(id, contributor, typ string, at time.Time) model.Event {
	return model.Event{
		EventID:       id,
		ContributorID: contributor,
		Type:          typ,
		CreatedAt:     at,
	}
}

func TestCompute(t *testing.T) {
	ladders := []model.Ladder{
		{ID: "connect", Title: "Connect", Requirements: []model.Requirement{{EventType: "forum_post", Min: 1}}},
		{ID: "core", Title: "Core", Requirements: []model.Requirement{{EventType: "patch", Min: 3}}},
	}
	refEnd := day(100)

	Convey("Given a two-tier ladder configuration", t, func() {
		Convey("When a contributor posts once then lands three patches", func() {
			events := []model.Event{
				event("e1", "x", "forum_post", day(0)),
				event("e2", "x", "patch", day(10)),
				event("e3", "x", "patch", day(20)),
				event("e4", "x", "patch", day(30)),
			}

			steps := journey.Compute(events, ladders, refEnd)

			Convey("Then the journey has a step per tier reached, in order", func() {
				So(steps, ShouldHaveLength, 2)
				So(steps[0].LadderID, ShouldEqual, "connect")
				So(steps[1].LadderID, ShouldEqual, "core")
			})

			Convey("And the first step is bounded by the qualifying events", func() {
				So(steps[0].StepJoined, ShouldEqual, day(0))
				So(steps[0].StepLeft, ShouldNotBeNil)
				So(*steps[0].StepLeft, ShouldEqual, day(30))
				So(steps[0].TimeInStepDays, ShouldEqual, 30)
				So(steps[0].EventsInStep, ShouldEqual, 3)
				So(steps[0].FirstEventID, ShouldEqual, "e1")
				So(steps[0].LastEventID, ShouldEqual, "e3")
				So(steps[0].RequirementMet, ShouldResemble, model.RequirementMet{EventType: "forum_post", Min: 1, Achieved: 1})
			})

			Convey("And the final step stays open, measured against the reference end", func() {
				So(steps[1].StepJoined, ShouldEqual, day(30))
				So(steps[1].StepLeft, ShouldBeNil)
				So(steps[1].TimeInStepDays, ShouldEqual, 70)
				So(steps[1].EventsInStep, ShouldEqual, 1)
				So(steps[1].FirstEventID, ShouldEqual, "e4")
				So(steps[1].RequirementMet, ShouldResemble, model.RequirementMet{EventType: "patch", Min: 3, Achieved: 3})
			})
		})

		Convey("When no event ever qualifies for the first tier", func() {
			events := []model.Event{
				event("e1", "x", "patch", day(0)),
				event("e2", "x", "patch", day(1)),
			}
			steps := journey.Compute(events, ladders, refEnd)

			Convey("Then the journey is empty", func() {
				So(steps, ShouldBeEmpty)
			})
		})

		Convey("When there are no events at all", func() {
			So(journey.Compute(nil, ladders, refEnd), ShouldBeEmpty)
		})
	})

	Convey("Given an empty ladder configuration", t, func() {
		events := []model.Event{event("e1", "x", "forum_post", day(0))}

		Convey("Then the journey is empty rather than an error", func() {
			So(journey.Compute(events, nil, refEnd), ShouldBeEmpty)
		})
	})

	Convey("Given a tier with alternative requirements", t, func() {
		alt := []model.Ladder{
			{ID: "starter", Requirements: []model.Requirement{
				{EventType: "ticket", Min: 5},
				{EventType: "review", Min: 2},
			}},
		}

		Convey("When the second alternative is reached first", func() {
			events := []model.Event{
				event("e1", "x", "review", day(0)),
				event("e2", "x", "review", day(1)),
			}
			steps := journey.Compute(events, alt, refEnd)

			Convey("Then that requirement is recorded as met", func() {
				So(steps, ShouldHaveLength, 1)
				So(steps[0].RequirementMet.EventType, ShouldEqual, "review")
				So(steps[0].RequirementMet.Achieved, ShouldEqual, 2)
			})
		})

		Convey("When both alternatives hold, the first configured one wins", func() {
			events := make([]model.Event, 0, 7)
			for i := 0; i < 4; i++ {
				events = append(events, event("t"+string(rune('a'+i)), "x", "ticket", day(i)))
			}
			for i := 0; i < 2; i++ {
				events = append(events, event("r"+string(rune('a'+i)), "x", "review", day(4+i)))
			}
			// Fifth ticket arrives after the reviews already qualified.
			events = append(events, event("tz", "x", "ticket", day(7)))

			steps := journey.Compute(events, alt, refEnd)
			So(steps, ShouldHaveLength, 1)
			// Qualification happened via reviews; tickets were still at 4.
			So(steps[0].RequirementMet.EventType, ShouldEqual, "review")
		})
	})
}

func TestComputeCascade(t *testing.T) {
	Convey("Given three tiers all satisfied by a single event type", t, func() {
		ladders := []model.Ladder{
			{ID: "bronze", Requirements: []model.Requirement{{EventType: "commit", Min: 1}}},
			{ID: "silver", Requirements: []model.Requirement{{EventType: "commit", Min: 1}}},
			{ID: "gold", Requirements: []model.Requirement{{EventType: "commit", Min: 1}}},
		}
		refEnd := day(50)

		Convey("When the very first event arrives", func() {
			events := []model.Event{event("e1", "x", "commit", day(0))}
			steps := journey.Compute(events, ladders, refEnd)

			Convey("Then every intermediate tier gets a zero-duration step", func() {
				So(steps, ShouldHaveLength, 3)
				for i, step := range steps[:2] {
					So(step.LadderID, ShouldEqual, ladders[i].ID)
					So(step.StepJoined, ShouldEqual, day(0))
					So(step.StepLeft, ShouldNotBeNil)
					So(*step.StepLeft, ShouldEqual, day(0))
					So(step.TimeInStepDays, ShouldEqual, 0)
					So(step.EventsInStep, ShouldEqual, 1)
					So(step.FirstEventID, ShouldEqual, "e1")
					So(step.LastEventID, ShouldEqual, "e1")
				}
			})

			Convey("And the last step remains open", func() {
				So(steps[2].LadderID, ShouldEqual, "gold")
				So(steps[2].StepLeft, ShouldBeNil)
				So(steps[2].TimeInStepDays, ShouldEqual, 50)
			})
		})

		Convey("When later events arrive they accumulate into the open step", func() {
			events := []model.Event{
				event("e1", "x", "commit", day(0)),
				event("e2", "x", "commit", day(3)),
				event("e3", "x", "commit", day(9)),
			}
			steps := journey.Compute(events, ladders, refEnd)

			So(steps, ShouldHaveLength, 3)
			So(steps[2].EventsInStep, ShouldEqual, 3)
			So(steps[2].LastEventID, ShouldEqual, "e3")
			So(steps[2].LastEventDate, ShouldEqual, day(9))
		})
	})

	Convey("Given ascending thresholds cleared mid-history", t, func() {
		ladders := []model.Ladder{
			{ID: "one", Requirements: []model.Requirement{{EventType: "reply", Min: 1}}},
			{ID: "five", Requirements: []model.Requirement{{EventType: "reply", Min: 5}}},
			{ID: "six", Requirements: []model.Requirement{{EventType: "reply", Min: 6}}},
		}
		refEnd := day(50)

		events := make([]model.Event, 0, 6)
		for i := 0; i < 6; i++ {
			events = append(events, event("e"+string(rune('a'+i)), "x", "reply", day(i)))
		}

		steps := journey.Compute(events, ladders, refEnd)

		Convey("Then ladder ids appear in configured order with no gaps", func() {
			So(steps, ShouldHaveLength, 3)
			So(steps[0].LadderID, ShouldEqual, "one")
			So(steps[1].LadderID, ShouldEqual, "five")
			So(steps[2].LadderID, ShouldEqual, "six")
		})

		Convey("And step event counts sum to the event total", func() {
			total := 0
			for _, step := range steps {
				total += step.EventsInStep
			}
			So(total, ShouldEqual, len(events))
		})

		Convey("And only the sixth event triggers the final tier", func() {
			So(steps[1].StepJoined, ShouldEqual, day(4))
			So(*steps[1].StepLeft, ShouldEqual, day(5))
			So(steps[1].EventsInStep, ShouldEqual, 1)
			So(steps[2].StepJoined, ShouldEqual, day(5))
		})
	})
}
