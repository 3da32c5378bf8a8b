package board

import "time"

// ConfigRowID is the fixed identifier of the single accident config row.
const ConfigRowID = 1

const day = 24 * time.Hour

// AccidentConfig is the authoritative baseline and the best-known record.
type AccidentConfig struct {
	LastAccidentDate time.Time `json:"lastAccidentDate"`
	RecordDays       int       `json:"recordDays"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// ResetOutcome is the result of the atomic reset procedure.
type ResetOutcome struct {
	NewTimestamp time.Time `json:"new_timestamp"`
	PreviousDays int       `json:"previous_days"`
	OldRecord    int       `json:"old_record"`
	NewRecord    int       `json:"new_record"`
	RecordBroken bool      `json:"record_broken"`
}

// HistoryEntry is one row of the append-only reset audit log.
type HistoryEntry struct {
	ID           string    `json:"id"`
	ResetAt      time.Time `json:"resetAt"`
	PreviousDays int       `json:"previousDays"`
}

// Elapsed is the whole-unit decomposition of the time since the last accident.
type Elapsed struct {
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// ComputeElapsed decomposes now-since into days, hours, minutes and seconds.
// A baseline in the future yields zero.
func ComputeElapsed(since, now time.Time) Elapsed {
	d := now.Sub(since)
	if d < 0 {
		return Elapsed{}
	}
	days := d / day
	d -= days * day
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	return Elapsed{
		Days:    int(days),
		Hours:   int(hours),
		Minutes: int(minutes),
		Seconds: int(d / time.Second),
	}
}

// ElapsedDays returns the number of whole days between since and now.
func ElapsedDays(since, now time.Time) int {
	return ComputeElapsed(since, now).Days
}

// DecideReset computes what the atomic reset procedure does to a row holding
// (last, record) when it runs at now. Stores that evaluate the procedure in Go
// call this inside their transaction.
func DecideReset(last time.Time, record int, now time.Time) ResetOutcome {
	previous := ElapsedDays(last, now)
	out := ResetOutcome{
		NewTimestamp: now,
		PreviousDays: previous,
		OldRecord:    record,
		NewRecord:    record,
	}
	if previous > record {
		out.NewRecord = previous
		out.RecordBroken = true
	}
	return out
}
