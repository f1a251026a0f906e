package network

import (
	"fmt"
	"os"
	"path/filepath"

	"chesscoachd/internal/model"
	"chesscoachd/internal/store"
	"chesscoachd/internal/tblog"
)

// Training-side cache access is single-writer by contract: exactly one
// training loop drives EnsureTraining, EnsureCommentary and Save, so
// these paths take no ensure lock. The shared creation lock still
// bounds model materialization.

// EnsureTraining returns the training subset, building the training-side
// full model (independent of every prediction-side full), deriving and
// compiling the subset, and opening the scalar sinks on first demand.
func (n *Network) EnsureTraining() (model.Trainable, error) {
	if n.modelsTrain.train != nil {
		return n.modelsTrain.train, nil
	}

	full, _, err := n.buildFull("training")
	if err != nil {
		return nil, err
	}
	n.modelsTrain.full = full

	train, err := n.builder.SubsetTrain(full)
	if err != nil {
		return nil, err
	}
	if n.TrainingCompiler != nil {
		if err := n.TrainingCompiler(train); err != nil {
			return nil, err
		}
	}
	n.modelsTrain.train = train

	if n.tbTraining, err = tblog.NewWriter(n.tensorboardDir("training")); err != nil {
		return nil, err
	}
	if n.tbValidation, err = tblog.NewWriter(n.tensorboardDir("validation")); err != nil {
		return nil, err
	}
	return train, nil
}

// EnsureCommentary guarantees the commentary encoder, decoder and
// tokenizer exist. The encoder shares the trained backbone, so training
// models are ensured first; decoder and tokenizer load from the latest
// checkpoint when one exists.
func (n *Network) EnsureCommentary() error {
	if n.modelsTrain.commentaryEncoder != nil {
		return nil
	}

	if _, err := n.EnsureTraining(); err != nil {
		return err
	}
	encoder, err := n.builder.SubsetCommentaryEncoder(n.modelsTrain.full)
	if err != nil {
		return err
	}
	n.modelsTrain.commentaryEncoder = encoder

	n.guards.creation.Lock()
	defer n.guards.creation.Unlock()

	decoder, err := n.builder.BuildCommentaryDecoder()
	if err != nil {
		return err
	}
	networkPath := n.paths.LatestNetworkPath(n.Name(), n.netType)
	if networkPath != "" {
		n.log.Info().Str("context", "training").Str("checkpoint", store.LogName(networkPath)).Msg("loading commentary models")
		if err := n.loader.LoadWeights(decoder, store.CommentaryDecoderPath(networkPath, n.netType)); err != nil {
			return err
		}
		raw, err := os.ReadFile(store.CommentaryTokenizerPath(networkPath, n.netType))
		if err != nil {
			return err
		}
		tokenizer, err := model.TokenizerFromJSON(raw)
		if err != nil {
			return err
		}
		n.modelsTrain.commentaryDecoder = decoder
		n.modelsTrain.commentaryTokenizer = tokenizer
		return nil
	}

	n.log.Info().Str("context", "training").Msg("creating new commentary models")
	tokenizer, err := n.builder.BuildTokenizer()
	if err != nil {
		return err
	}
	n.modelsTrain.commentaryDecoder = decoder
	n.modelsTrain.commentaryTokenizer = tokenizer
	return nil
}

// PredictCommentaryBatch generates one comment per position. Greedy
// decoding is bounded by the configured maximum length; the leading
// start marker and everything at or after the first end marker are
// trimmed from each sequence before text conversion.
func (n *Network) PredictCommentaryBatch(images []float32, batchSize int) ([][]byte, error) {
	if err := n.EnsureCommentary(); err != nil {
		return nil, err
	}

	encoder := n.modelsTrain.commentaryEncoder
	decoder := n.modelsTrain.commentaryDecoder
	tokenizer := n.modelsTrain.commentaryTokenizer

	startToken := tokenizer.WordIndex(model.TokenStart)
	endToken := tokenizer.WordIndex(model.TokenEnd)
	maxLength := n.shapes.CommentaryMaxLength

	sequences, err := model.PredictGreedy(encoder, decoder, startToken, endToken, maxLength, images, batchSize)
	if err != nil {
		return nil, err
	}
	for i, seq := range sequences {
		sequences[i] = trimStartEndTokens(seq, endToken)
	}

	comments := tokenizer.SequencesToTexts(sequences)
	out := make([][]byte, len(comments))
	for i, c := range comments {
		out[i] = []byte(c)
	}
	return out, nil
}

func trimStartEndTokens(sequence []int, endToken int) []int {
	for i, token := range sequence {
		if token == endToken {
			return sequence[1:i]
		}
	}
	return sequence[1:]
}

// Save checkpoints the training-side full model at step, plus the
// commentary decoder and tokenizer sidecar when both exist in the
// cache. Saving is synchronous and not retried; a failed save halts
// training rather than being skipped.
func (n *Network) Save(step int) error {
	if n.modelsTrain.full == nil {
		return fmt.Errorf("network: no training model to save")
	}
	networkPath, err := n.paths.NetworkPath(n.Name(), step)
	if err != nil {
		return err
	}
	logName := store.LogName(networkPath)

	n.log.Info().Str("context", "training").Str("checkpoint", logName).Msg("saving model")
	if err := n.modelsTrain.full.SaveWeights(store.ModelFullPath(networkPath, n.netType)); err != nil {
		return err
	}

	if n.modelsTrain.commentaryDecoder == nil || n.modelsTrain.commentaryTokenizer == nil {
		return nil
	}
	n.log.Info().Str("context", "training").Str("checkpoint", logName).Msg("saving commentary models")
	if err := n.modelsTrain.commentaryDecoder.SaveWeights(store.CommentaryDecoderPath(networkPath, n.netType)); err != nil {
		return err
	}
	tokenizerJSON, err := n.modelsTrain.commentaryTokenizer.ToJSON()
	if err != nil {
		return err
	}
	tokenizerPath := store.CommentaryTokenizerPath(networkPath, n.netType)
	if err := os.MkdirAll(filepath.Dir(tokenizerPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(tokenizerPath, tokenizerJSON, 0o644)
}
