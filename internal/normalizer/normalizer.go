// Package normalizer turns raw feed JSON into typed records.
//
// The feed is the only place where source quirks are visible; everything the
// upsert engine receives has already been coerced into typed values. No other
// package may inspect raw feed JSON.
package normalizer

import (
	"encoding/json"
	"fmt"
	"time"
)

// PathHint carries identifiers recovered from a file's position in the remote
// tree (/{period}/{lineid}/{shipid}/{codetocruiseid}.json). They backfill ids
// the document body omits.
type PathHint struct {
	Path   string
	LineID uint
	ShipID uint
}

// NormalizationError reports a malformed source record. These are never
// retried: the data itself is broken and re-fetching cannot fix it.
type NormalizationError struct {
	Field    string
	RawValue any
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization failed: field %q has unusable value %v", e.Field, e.RawValue)
}

// ItineraryEntry is one day of a sailing's itinerary.
type ItineraryEntry struct {
	DayNumber  int
	PortName   string
	PortID     *uint
	ArriveTime string
	DepartTime string
}

// Record is the canonical normalized form of one feed document.
type Record struct {
	CodeToCruiseID uint
	CruiseID       uint
	LineID         uint
	ShipID         uint

	Name            string
	SailDate        *time.Time
	Nights          *int
	EmbarkPortID    *uint
	DisembarkPortID *uint
	RegionIDs       []uint
	PortIDs         []uint
	Itinerary       []ItineraryEntry

	Prices   Prices
	Currency string

	LineName    string
	LineCode    string
	ShipName    string
	ShipTonnage *int
	ShipCap     *int

	// Names the feed supplies for referenced ports and regions, keyed by id.
	// Missing entries get placeholder names at upsert time.
	PortNames   map[uint]string
	RegionNames map[uint]string

	Raw string
}

var sailDateFormats = []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339}

// Normalize parses one raw feed document. The sailing identifier, line id and
// ship id must resolve to positive integers (from the body or the path hint)
// or normalization fails with a *NormalizationError.
func Normalize(raw []byte, hint PathHint) (*Record, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &NormalizationError{Field: "document", RawValue: fmt.Sprintf("invalid JSON: %v", err)}
	}

	codeToCruiseID := uintOrNil(doc["codetocruiseid"])
	if codeToCruiseID == nil {
		return nil, &NormalizationError{Field: "codetocruiseid", RawValue: doc["codetocruiseid"]}
	}

	lineID := uintOrNil(doc["lineid"])
	if lineID == nil && hint.LineID > 0 {
		lineID = &hint.LineID
	}
	if lineID == nil {
		return nil, &NormalizationError{Field: "lineid", RawValue: doc["lineid"]}
	}

	shipID := uintOrNil(doc["shipid"])
	if shipID == nil && hint.ShipID > 0 {
		shipID = &hint.ShipID
	}
	if shipID == nil {
		return nil, &NormalizationError{Field: "shipid", RawValue: doc["shipid"]}
	}

	rec := &Record{
		CodeToCruiseID:  *codeToCruiseID,
		LineID:          *lineID,
		ShipID:          *shipID,
		Name:            stringOr(doc["name"], ""),
		SailDate:        parseSailDate(doc["saildate"], doc["startdate"]),
		Nights:          intOrNil(doc["nights"]),
		EmbarkPortID:    uintOrNil(doc["startportid"]),
		DisembarkPortID: uintOrNil(doc["endportid"]),
		RegionIDs:       idList(doc["regionids"]),
		PortIDs:         idList(doc["portids"]),
		Currency:        stringOr(doc["currency"], "USD"),
		PortNames:       map[uint]string{},
		RegionNames:     map[uint]string{},
		Raw:             string(raw),
	}

	if cruiseID := uintOrNil(doc["cruiseid"]); cruiseID != nil {
		rec.CruiseID = *cruiseID
	}
	if rec.Nights == nil {
		rec.Nights = intOrNil(doc["sailnights"])
	}

	rec.Prices = extractPrices(doc, rec.LineID)
	normalizeLineContent(doc, rec)
	normalizeShipContent(doc, rec)
	normalizeNameMaps(doc, rec)
	rec.Itinerary = normalizeItinerary(doc["itinerary"])

	return rec, nil
}

func parseSailDate(values ...any) *time.Time {
	for _, v := range values {
		s := stringOr(v, "")
		if s == "" {
			continue
		}
		for _, layout := range sailDateFormats {
			if t, err := time.Parse(layout, s); err == nil {
				return &t
			}
		}
	}
	return nil
}

func normalizeLineContent(doc map[string]any, rec *Record) {
	content, ok := doc["linecontent"].(map[string]any)
	if !ok {
		rec.LineName = stringOr(doc["linename"], "")
		return
	}
	rec.LineName = stringOr(content["name"], stringOr(doc["linename"], ""))
	rec.LineCode = stringOr(content["code"], "")
}

func normalizeShipContent(doc map[string]any, rec *Record) {
	content, ok := doc["shipcontent"].(map[string]any)
	if !ok {
		rec.ShipName = stringOr(doc["shipname"], "")
		return
	}
	rec.ShipName = stringOr(content["name"], stringOr(doc["shipname"], ""))
	rec.ShipTonnage = intOrNil(content["tonnage"])
	rec.ShipCap = intOrNil(content["occupancy"])
}

// normalizeNameMaps collects the feed's port/region name lookups, which arrive
// as {"12": "Barcelona", ...} keyed by stringified id.
func normalizeNameMaps(doc map[string]any, rec *Record) {
	if ports, ok := doc["ports"].(map[string]any); ok {
		for key, name := range ports {
			if id := uintOrNil(key); id != nil {
				rec.PortNames[*id] = stringOr(name, "")
			}
		}
	}
	if regions, ok := doc["regions"].(map[string]any); ok {
		for key, name := range regions {
			if id := uintOrNil(key); id != nil {
				rec.RegionNames[*id] = stringOr(name, "")
			}
		}
	}
}

func normalizeItinerary(raw any) []ItineraryEntry {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []ItineraryEntry
	for i, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entry := ItineraryEntry{
			DayNumber:  i + 1,
			PortName:   stringOr(fields["name"], ""),
			PortID:     uintOrNil(fields["portid"]),
			ArriveTime: stringOr(fields["arrivetime"], ""),
			DepartTime: stringOr(fields["departtime"], ""),
		}
		if day := intOrNil(fields["day"]); day != nil {
			entry.DayNumber = *day
		}
		out = append(out, entry)
	}
	return out
}

// HasAnyPrice reports whether at least one cabin class carries a price.
func (r *Record) HasAnyPrice() bool {
	return r.Prices.Cheapest() != nil
}
