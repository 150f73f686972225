package events

import "time"

// AnalysisStart is emitted before a document is analysed. Index is the
// position within a batch request, 0 otherwise.
type AnalysisStart struct {
	Index         int
	DocumentHash  uint64
	OperationName string
	Validate      bool
}

// AnalysisFinish is emitted after a document was analysed. Err is nil on
// success.
type AnalysisFinish struct {
	Index         int
	DocumentHash  uint64
	OperationName string
	Vertices      int
	Stages        int
	Err           error
	Duration      time.Duration
}
