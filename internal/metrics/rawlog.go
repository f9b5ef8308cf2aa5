package metrics

// RawLog is the append-only record of continuous observations, one slice per
// category. Entries are never rewritten, so a view clipped to its current
// length stays valid after later appends.
type RawLog struct {
	Resources    []Resource
	LayoutShifts []LayoutShift
	LongTasks    []LongTask
	Frames       []FrameSample
}

// Reduce folds one observation into the log. Observations of kinds that have
// no raw category are ignored.
func Reduce(log RawLog, obs Observation) RawLog {
	switch o := obs.(type) {
	case Resource:
		log.Resources = append(log.Resources, o)
	case LayoutShift:
		log.LayoutShifts = append(log.LayoutShifts, o)
	case LongTask:
		log.LongTasks = append(log.LongTasks, o)
	case FrameSample:
		log.Frames = append(log.Frames, o)
	}
	return log
}

// Len returns the number of observations in the category.
func (l RawLog) Len(kind Kind) int {
	switch kind {
	case KindResource:
		return len(l.Resources)
	case KindLayoutShift:
		return len(l.LayoutShifts)
	case KindLongTask:
		return len(l.LongTasks)
	case KindFrame:
		return len(l.Frames)
	default:
		return 0
	}
}

// Total returns the number of observations across all categories.
func (l RawLog) Total() int {
	return len(l.Resources) + len(l.LayoutShifts) + len(l.LongTasks) + len(l.Frames)
}

// clone returns an independent copy with non-nil slices. Nested attribution
// slices are shared; they are never written after the entry is recorded.
func (l RawLog) clone() RawLog {
	return RawLog{
		Resources:    append(make([]Resource, 0, len(l.Resources)), l.Resources...),
		LayoutShifts: append(make([]LayoutShift, 0, len(l.LayoutShifts)), l.LayoutShifts...),
		LongTasks:    append(make([]LongTask, 0, len(l.LongTasks)), l.LongTasks...),
		Frames:       append(make([]FrameSample, 0, len(l.Frames)), l.Frames...),
	}
}
