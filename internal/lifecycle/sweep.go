package lifecycle

// Schedule is the part of a schedule the monitor needs to decide a
// transition. TimeEnd is exclusive.
type Schedule struct {
	ID        string
	Status    Status
	TimeStart int64
	TimeEnd   int64
}

// Transition is one status change decided by Sweep.
type Transition struct {
	ScheduleID string `json:"schedule_id"`
	From       Status `json:"from"`
	To         Status `json:"to"`
}

// Sweep decides the transitions due at now. It is pure: running it again with
// the same now against the updated schedules yields nothing.
//
//   - ready with time_start <= now < time_end becomes active
//   - active with now >= time_end becomes completed
//   - ready with now >= time_end becomes completed (the whole window elapsed
//     between two sweeps)
//
// Draft, completed and cancelled schedules are never touched.
func Sweep(now int64, schedules []Schedule) []Transition {
	var out []Transition
	for _, s := range schedules {
		if to, ok := next(s, now); ok {
			out = append(out, Transition{ScheduleID: s.ID, From: s.Status, To: to})
		}
	}
	return out
}

func next(s Schedule, now int64) (Status, bool) {
	switch s.Status {
	case StatusReady:
		if now >= s.TimeEnd {
			return StatusCompleted, true
		}
		if now >= s.TimeStart {
			return StatusActive, true
		}
	case StatusActive:
		if now >= s.TimeEnd {
			return StatusCompleted, true
		}
	}
	return "", false
}
