package importer

import (
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/trellis/internal/domain/model"
)

func TestParseLine(t *testing.T) {
	Convey("Given CSV lines", t, func() {
		Convey("When parsing a well-formed line", func() {
			ev, err := ParseLine("e1,alice,2024-01-01 10:30:00,forum_post,2024-02-01 08:00:00")

			Convey("Then all fields should be populated", func() {
				So(err, ShouldBeNil)
				So(ev.EventID, ShouldEqual, "e1")
				So(ev.ContributorID, ShouldEqual, "alice")
				So(ev.Type, ShouldEqual, "forum_post")
				So(ev.ContributorCreated.Equal(time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)), ShouldBeTrue)
				So(ev.CreatedAt.Equal(time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)), ShouldBeTrue)
			})
		})

		Convey("When fields carry surrounding whitespace", func() {
			ev, err := ParseLine("  e1 , alice ,, patch ,2024-02-01")

			Convey("Then they should be trimmed", func() {
				So(err, ShouldBeNil)
				So(ev.EventID, ShouldEqual, "e1")
				So(ev.ContributorID, ShouldEqual, "alice")
				So(ev.Type, ShouldEqual, "patch")
			})
		})

		Convey("When date fields vary in format", func() {
			cases := map[string]time.Time{
				"2024-03-05 16:20:11":  time.Date(2024, 3, 5, 16, 20, 11, 0, time.UTC),
				"2024-03-05T16:20:11Z": time.Date(2024, 3, 5, 16, 20, 11, 0, time.UTC),
				"2024-03-05":           time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
			}
			for raw, want := range cases {
				ev, err := ParseLine("e1,alice,," + "patch," + raw)
				So(err, ShouldBeNil)
				So(ev.CreatedAt.Equal(want), ShouldBeTrue)
			}
		})

		Convey("When dates are empty", func() {
			ev, err := ParseLine("e1,alice,,patch,")

			Convey("Then they should stay zero", func() {
				So(err, ShouldBeNil)
				So(ev.ContributorCreated.IsZero(), ShouldBeTrue)
				So(ev.CreatedAt.IsZero(), ShouldBeTrue)
			})
		})

		Convey("When a date is unparseable", func() {
			_, err := ParseLine("e1,alice,,patch,yesterday")

			Convey("Then parsing should fail", func() {
				So(errors.Is(err, ErrBadLine), ShouldBeTrue)
			})
		})

		Convey("When the line is empty", func() {
			_, err := ParseLine("   ")

			Convey("Then ErrEmptyLine is returned", func() {
				So(errors.Is(err, ErrEmptyLine), ShouldBeTrue)
			})
		})

		Convey("When the line has too few columns", func() {
			_, err := ParseLine("e1,alice,patch")

			Convey("Then ErrBadLine is returned", func() {
				So(errors.Is(err, ErrBadLine), ShouldBeTrue)
			})
		})

		Convey("When the line has extra columns", func() {
			ev, err := ParseLine("e1,alice,,patch,2024-02-01,extra,columns")

			Convey("Then the extras should be ignored", func() {
				So(err, ShouldBeNil)
				So(ev.EventID, ShouldEqual, "e1")
				So(ev.Type, ShouldEqual, "patch")
			})
		})

		Convey("When fields are quoted", func() {
			ev, err := ParseLine(`e1,"alice, the first",,forum_post,2024-02-01`)

			Convey("Then CSV quoting should be honored", func() {
				So(err, ShouldBeNil)
				So(ev.ContributorID, ShouldEqual, "alice, the first")
			})
		})
	})
}

func TestValidate(t *testing.T) {
	Convey("Given parsed events", t, func() {
		Convey("When required fields are present", func() {
			err := Validate(parsed(t, "e1,alice,,patch,2024-02-01"))

			Convey("Then validation should pass", func() {
				So(err, ShouldBeNil)
			})
		})

		Convey("When required fields are missing", func() {
			err := Validate(parsed(t, ",,,,"))

			Convey("Then the error should name every missing field", func() {
				var missing *MissingFieldsError
				So(errors.As(err, &missing), ShouldBeTrue)
				So(missing.Fields, ShouldResemble, []string{"event_id", "contributor_id", "event_type"})
			})
		})
	})
}

func TestIsHeader(t *testing.T) {
	Convey("Given first lines of uploaded files", t, func() {
		Convey("When the line looks like a header", func() {
			So(IsHeader("id,user_id,user_registered,event_type,event_date"), ShouldBeTrue)
			So(IsHeader("ID,User,Registered,Type,Date"), ShouldBeTrue)
			So(IsHeader("event,user_id,reg,type,date"), ShouldBeTrue)
		})

		Convey("When the line looks like data", func() {
			So(IsHeader("e1,alice,2024-01-01,forum_post,2024-02-01"), ShouldBeFalse)
			So(IsHeader(""), ShouldBeFalse)
		})
	})
}

func parsed(t *testing.T, line string) model.Event {
	t.Helper()
	ev, err := ParseLine(line)
	if err != nil {
		t.Fatalf("parse line %q: %v", line, err)
	}
	return ev
}
