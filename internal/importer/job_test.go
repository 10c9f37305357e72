package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/trellis/internal/batch"
	"github.com/okian/trellis/internal/domain/dedupe"
	"github.com/okian/trellis/internal/domain/model"
	"github.com/okian/trellis/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// memEventStore is an in-memory EventStore for tests.
type memEventStore struct {
	mu      sync.Mutex
	events  map[string]model.Event
	types   map[string]string
	failIDs map[string]bool
}

func newMemEventStore() *memEventStore {
	return &memEventStore{
		events:  make(map[string]model.Event),
		types:   make(map[string]string),
		failIDs: make(map[string]bool),
	}
}

func (m *memEventStore) InsertEvent(_ context.Context, ev model.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIDs[ev.EventID] {
		return false, errors.New("store down")
	}
	if _, ok := m.events[ev.EventID]; ok {
		return false, nil
	}
	m.events[ev.EventID] = ev
	return true, nil
}

func (m *memEventStore) RegisterEventTypes(_ context.Context, types map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for typ, label := range types {
		if _, ok := m.types[typ]; !ok {
			m.types[typ] = label
		}
	}
	return nil
}

type memClock struct {
	refreshed int
}

func (m *memClock) Refresh(context.Context) error {
	m.refreshed++
	return nil
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func freshState(kind string) *batch.State {
	return &batch.State{Kind: kind, Status: batch.StatusProcessing}
}

func TestImportJobPrepare(t *testing.T) {
	Convey("Given an import job", t, func() {
		store := newMemEventStore()
		clock := &memClock{}
		ctx := context.Background()

		Convey("When preparing a file with a header", func() {
			path := writeCSV(t, "id,user_id,user_registered,event_type,event_date\ne1,alice,,patch,2024-02-01\ne2,bob,,patch,2024-02-02\n")
			j := NewJob(store, clock, WithSourceFile(path))
			st := freshState(j.Kind())

			err := j.Prepare(ctx, st)

			Convey("Then data lines are counted and the header flagged", func() {
				So(err, ShouldBeNil)
				So(st.Total, ShouldEqual, 2)
				So(st.MetaBool(batch.MetaHasHeader), ShouldBeTrue)
				So(st.Meta[batch.MetaSourceFile], ShouldEqual, path)
				cursor, err := st.CursorInt()
				So(err, ShouldBeNil)
				So(cursor, ShouldEqual, 0)
			})
		})

		Convey("When preparing a file without a header", func() {
			path := writeCSV(t, "e1,alice,,patch,2024-02-01\n")
			j := NewJob(store, clock, WithSourceFile(path))
			st := freshState(j.Kind())

			err := j.Prepare(ctx, st)

			Convey("Then every line counts as data", func() {
				So(err, ShouldBeNil)
				So(st.Total, ShouldEqual, 1)
				So(st.MetaBool(batch.MetaHasHeader), ShouldBeFalse)
			})
		})

		Convey("When preparing an empty file", func() {
			path := writeCSV(t, "")
			j := NewJob(store, clock, WithSourceFile(path))

			err := j.Prepare(ctx, freshState(j.Kind()))

			Convey("Then it should fail and remove the file", func() {
				So(errors.Is(err, ErrEmptyFile), ShouldBeTrue)
				_, statErr := os.Stat(path)
				So(os.IsNotExist(statErr), ShouldBeTrue)
			})
		})

		Convey("When preparing a header-only file", func() {
			path := writeCSV(t, "id,user_id,user_registered,event_type,event_date\n")
			j := NewJob(store, clock, WithSourceFile(path))

			err := j.Prepare(ctx, freshState(j.Kind()))

			Convey("Then it counts as empty", func() {
				So(errors.Is(err, ErrEmptyFile), ShouldBeTrue)
			})
		})

		Convey("When no source file is configured", func() {
			j := NewJob(store, clock)

			err := j.Prepare(ctx, freshState(j.Kind()))

			Convey("Then preparing should fail", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestImportJobTick(t *testing.T) {
	Convey("Given a prepared import job", t, func() {
		store := newMemEventStore()
		clock := &memClock{}
		ctx := context.Background()

		content := "id,user_id,user_registered,event_type,event_date\n" +
			"e1,alice,2024-01-01,forum_post,2024-01-05\n" +
			"e2,alice,2024-01-01,patch,2024-01-06\n" +
			"not-enough-columns\n" +
			",missing,,patch,2024-01-07\n" +
			"e3,bob,,new_thing,2024-01-08\n"

		prepare := func(opts ...Option) (*Job, *batch.State) {
			path := writeCSV(t, content)
			j := NewJob(store, clock, append([]Option{WithSourceFile(path)}, opts...)...)
			st := freshState(j.Kind())
			So(j.Prepare(ctx, st), ShouldBeNil)
			return j, st
		}

		Convey("When ticking through the whole file", func() {
			j, st := prepare()

			done, err := j.Tick(ctx, st)

			Convey("Then good rows are stored and bad rows skipped", func() {
				So(err, ShouldBeNil)
				So(done, ShouldBeTrue)
				So(st.Processed, ShouldEqual, 5)
				So(st.Written, ShouldEqual, 3)
				So(store.events, ShouldContainKey, "e1")
				So(store.events, ShouldContainKey, "e2")
				So(store.events, ShouldContainKey, "e3")
			})

			Convey("And unseen event types are registered with titles", func() {
				So(err, ShouldBeNil)
				So(store.types["new_thing"], ShouldEqual, "New Thing")
				So(store.types["forum_post"], ShouldEqual, "Forum Post")
			})
		})

		Convey("When the batch size splits the file across ticks", func() {
			j, st := prepare(WithBatchSize(2))

			done, err := j.Tick(ctx, st)
			So(err, ShouldBeNil)
			So(done, ShouldBeFalse)
			So(st.Processed, ShouldEqual, 2)

			done, err = j.Tick(ctx, st)
			So(err, ShouldBeNil)
			So(done, ShouldBeFalse)

			done, err = j.Tick(ctx, st)

			Convey("Then the cursor walks the file to completion", func() {
				So(err, ShouldBeNil)
				So(done, ShouldBeTrue)
				So(st.Processed, ShouldEqual, 5)
				So(st.Written, ShouldEqual, 3)
			})
		})

		Convey("When rows repeat within the file history", func() {
			j, st := prepare()
			_, err := j.Tick(ctx, st)
			So(err, ShouldBeNil)

			// Same content again through a second job sharing the store.
			j2, st2 := prepare()
			done, err := j2.Tick(ctx, st2)

			Convey("Then duplicates are processed but not written", func() {
				So(err, ShouldBeNil)
				So(done, ShouldBeTrue)
				So(st2.Processed, ShouldEqual, 5)
				So(st2.Written, ShouldEqual, 0)
			})
		})

		Convey("When the dedupe cache is installed", func() {
			d := dedupe.New(dedupe.WithMaxSize(16))
			j, st := prepare(WithDeduper(d))
			_, err := j.Tick(ctx, st)
			So(err, ShouldBeNil)

			j2, st2 := prepare(WithDeduper(d))
			done, err := j2.Tick(ctx, st2)

			Convey("Then repeats are skipped before reaching the store", func() {
				So(err, ShouldBeNil)
				So(done, ShouldBeTrue)
				So(st2.Written, ShouldEqual, 0)
			})
		})

		Convey("When the store fails on one row", func() {
			store.failIDs["e2"] = true
			d := dedupe.New(dedupe.WithMaxSize(16))
			j, st := prepare(WithDeduper(d))

			done, err := j.Tick(ctx, st)

			Convey("Then the tick aborts with the cursor at the failed line", func() {
				So(err, ShouldNotBeNil)
				So(done, ShouldBeFalse)
				So(st.Processed, ShouldEqual, 1)
				cursor, cerr := st.CursorInt()
				So(cerr, ShouldBeNil)
				So(cursor, ShouldEqual, 1)
				So(store.events, ShouldContainKey, "e1")
				So(store.events, ShouldNotContainKey, "e2")
			})

			Convey("And a retry after recovery finishes the file", func() {
				So(err, ShouldNotBeNil)
				store.failIDs["e2"] = false

				done, err := j.Tick(ctx, st)
				So(err, ShouldBeNil)
				So(done, ShouldBeTrue)
				So(st.Processed, ShouldEqual, 5)
				So(st.Written, ShouldEqual, 3)
				So(store.events, ShouldContainKey, "e2")
			})
		})
	})
}

func TestImportJobLifecycle(t *testing.T) {
	Convey("Given an import job over a stored file", t, func() {
		store := newMemEventStore()
		clock := &memClock{}
		ctx := context.Background()
		path := writeCSV(t, "e1,alice,,patch,2024-02-01\n")
		j := NewJob(store, clock, WithSourceFile(path))

		Convey("When the job finishes", func() {
			err := j.Finish(ctx)

			Convey("Then the file is removed and the clock refreshed", func() {
				So(err, ShouldBeNil)
				_, statErr := os.Stat(path)
				So(os.IsNotExist(statErr), ShouldBeTrue)
				So(clock.refreshed, ShouldEqual, 1)
			})
		})

		Convey("When the job is cancelled", func() {
			err := j.Cancelled(ctx)

			Convey("Then the file is discarded without a clock refresh", func() {
				So(err, ShouldBeNil)
				_, statErr := os.Stat(path)
				So(os.IsNotExist(statErr), ShouldBeTrue)
				So(clock.refreshed, ShouldEqual, 0)
			})
		})

		Convey("When restoring from a persisted state", func() {
			st := freshState(j.Kind())
			st.SetMeta(batch.MetaSourceFile, "/var/data/other.csv")

			restored := NewJob(store, clock)
			restored.RestoreFromState(*st)

			Convey("Then the job rebinds to the recorded file", func() {
				So(restored.path, ShouldEqual, "/var/data/other.csv")
			})
		})
	})
}

func TestTitleize(t *testing.T) {
	Convey("Given event type tags", t, func() {
		Convey("When deriving display titles", func() {
			So(titleize("forum_post"), ShouldEqual, "Forum Post")
			So(titleize("patch"), ShouldEqual, "Patch")
			So(titleize("wordcamp_talk_given"), ShouldEqual, "Wordcamp Talk Given")
			So(titleize(""), ShouldEqual, "")
		})
	})
}
