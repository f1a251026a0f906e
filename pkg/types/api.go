package types

// PredictRequest carries a packed batch of position images for inference.
type PredictRequest struct {
	// Flat row-major tensor of size batch_size * input_planes * 64.
	Images []float32 `json:"images"`
	// Number of positions in the batch.
	// example: 256
	BatchSize int `json:"batch_size" example:"256"`
}

// PredictResponse returns value and policy tensors for a batch.
type PredictResponse struct {
	// Whether the serving weights were hot-swapped for this call.
	// example: nothing
	Status string `json:"status" example:"nothing"`
	// Per-position values, batch_size long.
	Values []float32 `json:"values"`
	// Flat policy tensor of size batch_size * policy_planes * 64.
	Policies []float32 `json:"policies"`
}

// CommentaryRequest carries a packed batch of position images to caption.
type CommentaryRequest struct {
	Images []float32 `json:"images"`
	// example: 16
	BatchSize int `json:"batch_size" example:"16"`
}

// CommentaryResponse returns one generated comment per input position.
type CommentaryResponse struct {
	Comments []string `json:"comments"`
}

// TrainRequest describes one training invocation.
type TrainRequest struct {
	// Game types to sample from, e.g. ["selfplay", "supervised"].
	GameTypes []string `json:"game_types"`
	// Per-game-type sampling windows as [begin, end) step pairs.
	TrainingWindows []Window `json:"training_windows"`
	// Target training step.
	// example: 130000
	Step int `json:"step" example:"130000"`
	// Whether to checkpoint after reaching the step.
	// example: true
	Checkpoint bool `json:"checkpoint" example:"true"`
}

// Window is a half-open interval of training steps.
type Window struct {
	// example: 100000
	Begin int `json:"begin" example:"100000"`
	// example: 130000
	End int `json:"end" example:"130000"`
}

// TrainCommentaryRequest describes one commentary training invocation.
type TrainCommentaryRequest struct {
	// example: 130000
	Step int `json:"step" example:"130000"`
	// example: true
	Checkpoint bool `json:"checkpoint" example:"true"`
}

// LogScalarsRequest appends named scalar values to the training sink.
type LogScalarsRequest struct {
	// example: 130000
	Step   int       `json:"step" example:"130000"`
	Names  []string  `json:"names"`
	Values []float32 `json:"values"`
}

// LoadNetworkRequest switches the active on-disk network family.
type LoadNetworkRequest struct {
	// example: selfplay11
	Name string `json:"name" example:"selfplay11"`
}

// SaveNetworkRequest checkpoints the training-side model at a step.
type SaveNetworkRequest struct {
	// example: 130000
	Checkpoint int `json:"checkpoint" example:"130000"`
}

// SaveFileRequest writes raw bytes under the configured data root.
type SaveFileRequest struct {
	// Path relative to the data root.
	// example: strengths/arena.json
	RelativePath string `json:"relative_path" example:"strengths/arena.json"`
	// Base64-encoded file contents.
	Data []byte `json:"data"`
}

// DecompressRequest carries one compressed training record for debugging.
type DecompressRequest struct {
	Result                float32   `json:"result"`
	ImagePiecesAuxiliary  []float32 `json:"image_pieces_auxiliary"`
	MCTSValues            []float32 `json:"mcts_values"`
	PolicyRowLengths      []int     `json:"policy_row_lengths"`
	PolicyIndices         []int     `json:"policy_indices"`
	PolicyValues          []float32 `json:"policy_values"`
}

// DecompressResponse returns the densified training tensors.
type DecompressResponse struct {
	Images        []float32 `json:"images"`
	Values        []float32 `json:"values"`
	Policies      []float32 `json:"policies"`
	ReplyPolicies []float32 `json:"reply_policies"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
