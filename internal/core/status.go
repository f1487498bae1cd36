package core

// MarketStatus reflects whether the first full cold fetch has landed
type MarketStatus int32

const (
	MarketNotReady MarketStatus = iota
	MarketReady
)

func (s MarketStatus) String() string {
	if s == MarketReady {
		return "READY"
	}
	return "NOT_READY"
}

// ProcessingStatus is the shared phase marker used by the loop tasks
type ProcessingStatus int32

const (
	StatusInitializing ProcessingStatus = iota
	StatusProcessing
	StatusProcessed
	StatusProcessedError
)

func (s ProcessingStatus) String() string {
	switch s {
	case StatusProcessing:
		return "PROCESSING"
	case StatusProcessed:
		return "PROCESSED"
	case StatusProcessedError:
		return "PROCESSED_ERROR"
	default:
		return "INITIALIZING"
	}
}
