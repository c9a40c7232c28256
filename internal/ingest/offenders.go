package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultCounty is the county the offender registry is filtered to.
const DefaultCounty = "BARTOW"

// Offender is one normalized registry entry. Flag fields hold the flag name
// when set and are empty otherwise.
type Offender struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Offense   string `json:"offense"`
	City      string `json:"city"`
	County    string `json:"county"`
	Address   string `json:"address"`
	Risk      string `json:"risk"`
	Jailed    string `json:"jailed"`
	Predator  string `json:"predator"`
	Absconder string `json:"absconder"`
}

// ParseOffenders reads a registry CSV with a header row and keeps rows whose
// county contains the given filter. Rows without a name or county are
// skipped.
func ParseOffenders(r io.Reader, county string) ([]Offender, error) {
	rows, err := readRows(r)
	if err != nil {
		return nil, fmt.Errorf("parse offenders: %w", err)
	}
	county = strings.ToUpper(strings.TrimSpace(county))

	out := make([]Offender, 0, len(rows))
	for _, row := range rows {
		o, ok := normalizeOffender(row)
		if !ok {
			continue
		}
		if county != "" && !strings.Contains(o.County, county) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func normalizeOffender(row map[string]string) (Offender, bool) {
	if row["Name"] == "" || row["County"] == "" {
		return Offender{}, false
	}
	upper := func(key string) string { return strings.ToUpper(row[key]) }

	var addr []string
	for _, key := range []string{"Number", "Address", "City", "State", "Zip"} {
		if v := row[key]; v != "" {
			addr = append(addr, v)
		}
	}

	o := Offender{
		Name:    upper("Name"),
		Type:    strings.ToUpper(firstNonEmpty(row["Type2"], row["Type"])),
		Offense: strings.ToUpper(firstNonEmpty(row["Type"], row["Type2"])),
		City:    upper("City"),
		County:  upper("County"),
		Address: strings.Join(addr, " "),
		Risk:    strings.ToUpper(firstNonEmpty(row["Risk Level"], "UNKNOWN")),
	}
	switch jailed := strings.ToUpper(strings.TrimSpace(row["Jailed"])); jailed {
	case "INCARCERATED", "JAILED":
		o.Jailed = jailed
	}
	if strings.Contains(upper("Type2"), "PREDATOR") {
		o.Predator = "PREDATOR"
	}
	if strings.Contains(upper("Blank"), "ABSCONDER") {
		o.Absconder = "ABSCONDER"
	}
	return o, true
}

// FilterOffenders matches q case-insensitively against name, city, address
// and offense, and typ exactly (case-insensitive) against the type. Empty
// arguments match everything.
func FilterOffenders(list []Offender, q, typ string) []Offender {
	q = strings.ToLower(strings.TrimSpace(q))
	typ = strings.ToLower(strings.TrimSpace(typ))

	out := make([]Offender, 0, len(list))
	for _, o := range list {
		haystack := strings.ToLower(strings.Join([]string{o.Name, o.City, o.Address, o.Offense}, " "))
		if !strings.Contains(haystack, q) {
			continue
		}
		if typ != "" && strings.ToLower(o.Type) != typ {
			continue
		}
		out = append(out, o)
	}
	return out
}

// readRows reads a header row followed by records into maps keyed by the
// trimmed header names. Blank lines are skipped and short rows padded.
func readRows(r io.Reader) ([]map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		if isBlank(record) {
			continue
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// SampleOffenders is a fixed placeholder registry for deployments without a
// registry export. Values are upper-cased like parsed rows.
func SampleOffenders() []Offender {
	first := []string{"JOHN", "JAMES", "MICHAEL", "DAVID"}
	last := []string{"SMITH", "JOHNSON", "WILLIAMS", "BROWN", "JONES"}
	kinds := []string{"RESIDENT", "WORK", "TRANSIENT"}
	offenses := []string{"THEFT", "ASSAULT", "BURGLARY", "SEXUAL OFFENSE"}
	cities := []string{"CARTERSVILLE", "ADAIRSVILLE", "WHITE", "EMERSON", "EUHARLEE"}
	risks := []string{"LEVEL 1", "LEVEL 2", "LEVEL 3"}

	out := make([]Offender, 0, 15)
	for i := range 15 {
		o := Offender{
			Name:    first[i%4] + " " + last[i%5],
			Type:    kinds[i%3],
			Offense: offenses[i%4],
			City:    cities[i%5],
			County:  DefaultCounty,
			Address: fmt.Sprintf("%d MAIN STREET, %s, GA 30120", 1000+i*100, cities[i%5]),
			Risk:    risks[i%3],
		}
		if i%4 == 0 {
			o.Jailed = "JAILED"
		}
		out = append(out, o)
	}
	return out
}
