package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	ical "github.com/emersion/go-ical"
)

// LoadICS reads all-day or timed events from an iCalendar URL or file path
// and returns one Holiday per local date each event covers.
func LoadICS(ctx context.Context, source string, loc *time.Location) ([]Holiday, error) {
	var r io.ReadCloser

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching holiday calendar: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("holiday calendar fetch returned status %d", resp.StatusCode)
		}
		r = resp.Body
	} else {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("opening holiday calendar: %w", err)
		}
		r = f
	}
	defer r.Close()

	return DecodeICS(r, loc)
}

// DecodeICS parses holidays from an iCalendar stream.
func DecodeICS(r io.Reader, loc *time.Location) ([]Holiday, error) {
	dec := ical.NewDecoder(r)
	var holidays []Holiday

	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing holiday calendar: %w", err)
		}

		for _, component := range cal.Children {
			if component.Name != ical.CompEvent {
				continue
			}
			event := ical.Event{Component: component}

			start, err := event.DateTimeStart(loc)
			if err != nil {
				continue
			}
			end, err := event.DateTimeEnd(loc)
			if err != nil || !end.After(start) {
				end = start.AddDate(0, 0, 1)
			}
			summary, _ := event.Props.Text(ical.PropSummary)

			// DTEND is exclusive.
			day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
			for day.Before(end) {
				holidays = append(holidays, Holiday{Date: day, Kind: KindExtra, Name: summary})
				day = day.AddDate(0, 0, 1)
			}
		}
	}

	return holidays, nil
}

// ExportICS writes holidays as all-day events.
func ExportICS(w io.Writer, holidays []Holiday, now time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//punchclock//holidays//EN")

	for _, h := range holidays {
		event := ical.NewEvent()
		event.Props.SetText(ical.PropUID, fmt.Sprintf("%s-%s@punchclock", dateKey(h.Date), h.Kind))
		event.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
		event.Props.SetDate(ical.PropDateTimeStart, h.Date)
		event.Props.SetDate(ical.PropDateTimeEnd, h.Date.AddDate(0, 0, 1))
		event.Props.SetText(ical.PropSummary, h.Name)
		event.Props.SetText(ical.PropCategories, string(h.Kind))
		cal.Children = append(cal.Children, event.Component)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encoding holiday calendar: %w", err)
	}
	return nil
}
