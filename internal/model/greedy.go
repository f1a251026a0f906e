package model

import "fmt"

// PredictGreedy runs greedy sequence decoding for a batch of positions.
// Each output sequence begins with startToken and continues until
// endToken is emitted or maxLength tokens have been generated; the
// markers are left in place for the caller to trim.
func PredictGreedy(encoder Encoder, decoder Decoder, startToken, endToken, maxLength int,
	images []float32, batchSize int) ([][]int, error) {

	memory, err := encoder.Encode(images, batchSize)
	if err != nil {
		return nil, err
	}
	if len(memory) != batchSize {
		return nil, fmt.Errorf("model: encoder returned %d memories for batch of %d", len(memory), batchSize)
	}

	sequences := make([][]int, batchSize)
	for i := 0; i < batchSize; i++ {
		seq := []int{startToken}
		for len(seq) < maxLength {
			logits, err := decoder.Step(memory[i], seq)
			if err != nil {
				return nil, err
			}
			next := argmax(logits)
			seq = append(seq, next)
			if next == endToken {
				break
			}
		}
		sequences[i] = seq
	}
	return sequences, nil
}

func argmax(logits []float32) int {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return best
}
