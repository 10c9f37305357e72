// Command gen-events writes a synthetic contributor event CSV for
// exercising the import pipeline.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
)

// Default configuration constants.
const (
	defaultContributors = 200
	defaultEvents       = 10000
	defaultDays         = 365

	registeredBeforeDays = 60
	noRegistrationOdds   = 10 // one in N contributors has no registration date
)

var eventTypes = []string{
	"forum_post",
	"forum_reply",
	"patch",
	"commit",
	"ticket_opened",
	"wordcamp_talk_given",
	"updated_profile",
}

func main() {
	var (
		contributors = flag.Int("contributors", defaultContributors, "Number of distinct contributors")
		numEvents    = flag.Int("events", defaultEvents, "Number of events to generate")
		days         = flag.Int("days", defaultDays, "Date range in days ending today")
		seed         = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
		outputFile   = flag.String("output", "", "Output file (default: events_TIMESTAMP.csv)")
		header       = flag.Bool("header", true, "Write a header row")
	)
	flag.Parse()

	if *contributors <= 0 || *numEvents <= 0 || *days <= 0 {
		os.Stderr.WriteString("contributors, events and days must be positive\n")
		os.Exit(1)
	}

	path := *outputFile
	if path == "" {
		path = "events_" + time.Now().Format("20060102_150405") + ".csv"
	}

	if err := generate(path, *contributors, *numEvents, *days, *seed, *header); err != nil {
		os.Stderr.WriteString("generate failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	fmt.Printf("wrote %d events for %d contributors to %s\n", *numEvents, *contributors, path)
}

type contributor struct {
	id         string
	registered time.Time // zero means the source row has no date
}

func generate(path string, contributors, numEvents, days int, seed int64, header bool) error {
	rng := rand.New(rand.NewSource(seed))

	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -days)

	people := make([]contributor, contributors)
	for i := range people {
		c := contributor{id: fmt.Sprintf("user%04d", i+1)}
		if rng.Intn(noRegistrationOdds) != 0 {
			offset := rng.Intn(days + registeredBeforeDays)
			c.registered = start.AddDate(0, 0, offset-registeredBeforeDays)
		}
		people[i] = c
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if header {
		fmt.Fprintln(w, "id,user_id,user_registered,event_type,event_date")
	}

	span := int(end.Sub(start).Seconds())
	for i := 0; i < numEvents; i++ {
		c := people[rng.Intn(len(people))]
		typ := eventTypes[rng.Intn(len(eventTypes))]
		at := start.Add(time.Duration(rng.Intn(span)) * time.Second)

		registered := ""
		if !c.registered.IsZero() {
			registered = c.registered.Format("2006-01-02 15:04:05")
		}

		fmt.Fprintf(w, "%s,%s,%s,%s,%s\n",
			uuid.New().String(), c.id, registered, typ, at.Format("2006-01-02 15:04:05"))
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output file: %w", err)
	}
	return nil
}
