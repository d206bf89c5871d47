package queue

// QueueInfo describes the length of each channel of a driver.
type QueueInfo struct {
	// Waiting is the length of the waiting list.
	Waiting int64
	// Active is the number of reserved jobs.
	Active int64
	// Completed is the number of acknowledged jobs.
	Completed int64
	// Failed is the length of the failed list.
	Failed int64
	// Delayed is the length of the delayed set.
	Delayed int64
	// Paused reports whether dispatching is paused.
	Paused bool
}

// JobCounts is the health view of a queue.
type JobCounts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Paused    int64 `json:"paused"`
}

// UnavailableCounts is returned by queues without a broker. -1 means "not
// applicable", which health checks tell apart from an idle broker.
func UnavailableCounts() JobCounts {
	return JobCounts{Waiting: -1, Active: -1, Completed: -1, Failed: -1, Delayed: -1, Paused: -1}
}

// Available reports whether the counts come from a real broker.
func (c JobCounts) Available() bool {
	return c != UnavailableCounts()
}

func countsFromInfo(info QueueInfo) JobCounts {
	counts := JobCounts{
		Active:    info.Active,
		Completed: info.Completed,
		Failed:    info.Failed,
		Delayed:   info.Delayed,
	}
	// paused jobs are the waiting ones that are not being dispatched
	if info.Paused {
		counts.Paused = info.Waiting
	} else {
		counts.Waiting = info.Waiting
	}
	return counts
}
