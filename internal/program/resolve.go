package program

import "sort"

// Resolve returns the step active at now for a program starting at timeStart.
// Days, slots and steps are half-open intervals [start, end): an instant on a
// boundary belongs to the later interval. Before timeStart, at or after the
// end of the last slot, or on a malformed program the result is inactive.
func Resolve(p *Program, timeStart, now int64) CurrentStep {
	if p == nil || now < timeStart {
		return CurrentStep{}
	}
	elapsed := now - timeStart

	var cumulative int64
	for i, slot := range p.Slots {
		if slot.Days <= 0 {
			return CurrentStep{}
		}
		dur := slot.duration()
		if elapsed < cumulative+dur {
			return resolveInSlot(slot, i, timeStart+cumulative, elapsed-cumulative)
		}
		cumulative += dur
	}
	return CurrentStep{}
}

// At resolves against the program's own start time.
func (p *Program) At(now int64) CurrentStep {
	if p == nil {
		return CurrentStep{}
	}
	return Resolve(p, p.TimeStart, now)
}

func resolveInSlot(slot Slot, slotIndex int, slotStart, inSlot int64) CurrentStep {
	day := inSlot / SecondsPerDay
	dayElapsed := inSlot % SecondsPerDay

	steps := slot.Steps
	if !ascending(steps) {
		return CurrentStep{}
	}
	next := sort.Search(len(steps), func(i int) bool {
		return steps[i].RelativeStartTime > dayElapsed
	})
	idx := next - 1
	if idx < 0 {
		// Either no steps or the first step starts later in the day.
		return CurrentStep{}
	}

	end := SecondsPerDay
	if next < len(steps) {
		end = steps[next].RelativeStartTime
	}
	active := steps[idx]
	dayStart := slotStart + day*SecondsPerDay

	return CurrentStep{
		Active:            true,
		SlotIndex:         slotIndex,
		Day:               int(day),
		StepIndex:         idx,
		ScenarioID:        slot.ScenarioID,
		ScenarioName:      slot.ScenarioName,
		RelativeStartTime: active.RelativeStartTime,
		StartsAt:          dayStart + active.RelativeStartTime,
		EndsAt:            dayStart + end,
		TimeRemaining:     end - dayElapsed,
		Step:              active.clone(),
	}
}

// ascending reports whether steps start in strictly increasing order within
// one day. Compile guarantees this; stored programs are checked again.
func ascending(steps []Step) bool {
	prev := int64(-1)
	for _, st := range steps {
		if st.RelativeStartTime <= prev || st.RelativeStartTime >= SecondsPerDay {
			return false
		}
		prev = st.RelativeStartTime
	}
	return true
}
