package dedupe_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/okian/trellis/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSeenAndRecord(t *testing.T) {
	ctx := context.Background()

	Convey("Given a fresh deduper", t, func() {
		d := dedupe.New()

		Convey("When an id is recorded for the first time", func() {
			So(d.SeenAndRecord(ctx, "ev-1"), ShouldBeFalse)

			Convey("Then seeing it again reports a duplicate", func() {
				So(d.SeenAndRecord(ctx, "ev-1"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When an id is unrecorded", func() {
			So(d.SeenAndRecord(ctx, "ev-2"), ShouldBeFalse)
			d.Unrecord(ctx, "ev-2")

			Convey("Then it can be recorded again", func() {
				So(d.SeenAndRecord(ctx, "ev-2"), ShouldBeFalse)
			})
		})
	})

	Convey("Given a bounded deduper at capacity", t, func() {
		d := dedupe.New(dedupe.WithMaxSize(3))
		for i := 0; i < 3; i++ {
			So(d.SeenAndRecord(ctx, "ev-"+strconv.Itoa(i)), ShouldBeFalse)
		}

		Convey("When another id arrives", func() {
			So(d.SeenAndRecord(ctx, "ev-3"), ShouldBeFalse)

			Convey("Then the oldest id is evicted and size stays bounded", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "ev-0"), ShouldBeFalse) // forgotten, recorded anew
			})

			Convey("And recent ids are still tracked", func() {
				So(d.SeenAndRecord(ctx, "ev-2"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "ev-3"), ShouldBeTrue)
			})
		})
	})
}
