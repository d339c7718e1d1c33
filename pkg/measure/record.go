package measure

// Record is the raw union a source capability hands back before the
// ingestion step decides what it is. A record is a Measurement iff it
// carries pollutant, unit, and a value; otherwise, if it carries a signal
// type, it is a CommunityReport. Anything else is dropped. The decision
// is made exactly once, at ingestion, and never re-derived downstream.
type Record struct {
	ID     string
	Source string
	Lat    float64
	Lon    float64

	// Measurement shape.
	Pollutant  string
	Value      *float64
	Unit       string
	Status     string
	MeasuredAt int64

	// CommunityReport shape.
	Signal    SignalType
	Comment   string
	CreatedAt int64
}

// Discriminate partitions records into measurements and reports and
// counts the records that matched neither shape. Dropped records are a
// data-quality condition, not an error.
func Discriminate(records []Record) (ms []Measurement, rs []CommunityReport, dropped int) {
	for _, r := range records {
		switch {
		case r.Pollutant != "" && r.Unit != "":
			m := Measurement{
				ID:         r.ID,
				Source:     r.Source,
				Lat:        r.Lat,
				Lon:        r.Lon,
				Pollutant:  r.Pollutant,
				Unit:       r.Unit,
				Status:     r.Status,
				MeasuredAt: r.MeasuredAt,
				Quality:    LevelDefault,
			}
			if r.Value != nil {
				m.Value = *r.Value
				m.HasValue = true
				m.Quality = LevelFor(r.Pollutant, *r.Value)
			}
			if m.Status == "" {
				m.Status = StatusActive
			}
			ms = append(ms, m)
		case r.Signal != "":
			rs = append(rs, CommunityReport{
				ID:        r.ID,
				Source:    r.Source,
				Signal:    r.Signal,
				Lat:       r.Lat,
				Lon:       r.Lon,
				Comment:   r.Comment,
				CreatedAt: r.CreatedAt,
			})
		default:
			dropped++
		}
	}
	return ms, rs, dropped
}
