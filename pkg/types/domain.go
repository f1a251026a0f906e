package types

// PredictionStatus reports what happened to the serving model while a
// prediction call was being satisfied. Callers use it for logging and
// metrics, not for retrying.
type PredictionStatus int

const (
	// StatusNothing means the cached model was used as-is.
	StatusNothing PredictionStatus = iota
	// StatusUpdatedNetwork means newer checkpoint weights were loaded
	// in place immediately before this prediction.
	StatusUpdatedNetwork
)

func (s PredictionStatus) String() string {
	switch s {
	case StatusUpdatedNetwork:
		return "updated_network"
	default:
		return "nothing"
	}
}

// NetworkType selects between the two network families. Each type owns
// its own model builder and its own on-disk subtree.
type NetworkType string

const (
	Teacher NetworkType = "teacher"
	Student NetworkType = "student"
)

// Valid reports whether t is one of the two known network types.
func (t NetworkType) Valid() bool { return t == Teacher || t == Student }

// NetworkInfo summarizes the on-disk training state of one network.
type NetworkInfo struct {
	// Training step of the latest checkpoint, 0 if none exists.
	// example: 128000
	StepCount int `json:"step_count" example:"128000"`
	// Number of training chunk files currently available.
	// example: 412
	TrainingChunkCount int `json:"training_chunk_count" example:"412"`
}
