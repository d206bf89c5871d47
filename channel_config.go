package queue

import "fmt"

// ChannelConfig describes the key name of each channel of a queue.
type ChannelConfig struct {
	Waiting   string
	Delayed   string
	Reserved  string
	Failed    string
	Completed string
	Paused    string
	ID        string
	Repeat    string
	// Meta prefixes per-job keys (progress, logs, dedupe markers).
	Meta string
}

// NewChannelConfig derives the keys of a queue from its prefix. The prefix is
// wrapped in braces so that all keys of a queue share a cluster hash slot.
func NewChannelConfig(prefix, name string) ChannelConfig {
	base := fmt.Sprintf("{%s:%s}", prefix, name)
	return ChannelConfig{
		Waiting:   base + ":waiting",
		Delayed:   base + ":delayed",
		Reserved:  base + ":reserved",
		Failed:    base + ":failed",
		Completed: base + ":completed",
		Paused:    base + ":paused",
		ID:        base + ":id",
		Repeat:    base + ":repeat",
		Meta:      base + ":job:",
	}
}

func (c ChannelConfig) byName(channel string) (string, bool) {
	switch channel {
	case "waiting":
		return c.Waiting, true
	case "delayed":
		return c.Delayed, true
	case "reserved":
		return c.Reserved, true
	case "failed":
		return c.Failed, true
	}
	return "", false
}
