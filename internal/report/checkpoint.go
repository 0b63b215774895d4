package report

// Checkpoint is one recorded event within a Report.
type Checkpoint struct {
	Index        int            `json:"index"`
	Name         string         `json:"name"`
	Type         CheckpointType `json:"type"`
	Level        int            `json:"level"`
	SourceName   string         `json:"source_name,omitempty"`
	ThreadName   string         `json:"thread_name,omitempty"`
	Message      string         `json:"message,omitempty"`
	Encoding     string         `json:"encoding,omitempty"`   // codec encoding tag, empty for plain text
	ClassName    string         `json:"class_name,omitempty"` // declared type of the captured value
	Stub         Stub           `json:"stub,omitempty"`
	Stubbed      bool           `json:"stubbed,omitempty"`
	StubNotFound string         `json:"stub_not_found,omitempty"` // set when a fallback stub was used

	// PreTruncatedMessageLength is the message length before truncation, or
	// zero when the message was stored in full.
	PreTruncatedMessageLength int `json:"pre_truncated_message_length,omitempty"`
}

// EstimatedMemoryUsage approximates the bytes held by the checkpoint.
func (c *Checkpoint) EstimatedMemoryUsage() int64 {
	const overhead = 64
	return int64(overhead + len(c.Name) + len(c.SourceName) + len(c.ThreadName) +
		len(c.Message) + len(c.Encoding) + len(c.ClassName) + len(c.StubNotFound))
}

// SameIdentity reports whether c and o share name, type and level, the key
// used to pair checkpoints of an original report with those of a rerun.
func (c *Checkpoint) SameIdentity(o *Checkpoint) bool {
	return c.Name == o.Name && c.Type == o.Type && c.Level == o.Level
}
