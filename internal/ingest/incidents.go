package ingest

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/example/community-tips/internal/types"
)

// Incident categories.
const (
	CategoryViolent  = "violent"
	CategoryProperty = "property"
	CategoryOther    = "other"
)

var (
	violentPattern  = regexp.MustCompile(`assault|robbery|battery|homicide|weapon`)
	propertyPattern = regexp.MustCompile(`burglary|theft|larceny|shoplift|vandal`)
)

// Incident is one entry of the public crime log.
type Incident struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	When      time.Time `json:"when"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Address   string    `json:"address"`
	Officer   string    `json:"officer,omitempty"`
	Narrative string    `json:"narrative,omitempty"`
}

// ClassifyCategory buckets an incident title by keyword.
func ClassifyCategory(title string) string {
	s := strings.ToLower(title)
	switch {
	case violentPattern.MatchString(s):
		return CategoryViolent
	case propertyPattern.MatchString(s):
		return CategoryProperty
	default:
		return CategoryOther
	}
}

// ParseIncidents reads an incident CSV with the header
// id,title,when,lat,lng,address,officer,narrative. Rows without a title or
// a parseable time are skipped. The category is derived from the title.
func ParseIncidents(r io.Reader) ([]Incident, error) {
	rows, err := readRows(r)
	if err != nil {
		return nil, fmt.Errorf("parse incidents: %w", err)
	}

	out := make([]Incident, 0, len(rows))
	for _, row := range rows {
		title := row["title"]
		when, err := types.ParseStamp(row["when"])
		if title == "" || err != nil {
			continue
		}
		lat, _ := strconv.ParseFloat(row["lat"], 64)
		lng, _ := strconv.ParseFloat(row["lng"], 64)
		id := row["id"]
		if id == "" {
			id = types.NewID()
		}
		out = append(out, Incident{
			ID:        id,
			Title:     title,
			Category:  ClassifyCategory(title),
			When:      when.UTC(),
			Lat:       lat,
			Lng:       lng,
			Address:   row["address"],
			Officer:   row["officer"],
			Narrative: row["narrative"],
		})
	}
	return out, nil
}

// FilterByDays keeps incidents no older than days before now.
func FilterByDays(list []Incident, days int, now time.Time) []Incident {
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	out := make([]Incident, 0, len(list))
	for _, inc := range list {
		if !inc.When.Before(cutoff) {
			out = append(out, inc)
		}
	}
	return out
}
