package budget

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter reports the token cost of a piece of text. The budgeters
// treat it as opaque: it can be a real tokenizer or a cheap length
// heuristic.
type TokenCounter func(text string) int

// TiktokenCounter returns a counter backed by the cl100k_base encoding.
func TiktokenCounter() (TokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load cl100k_base encoding: %w", err)
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}, nil
}

// HeuristicCounter estimates tokens as bytes divided by bytesPerToken
// (default 4), the same estimate used for usage tracking. Cheap fallback
// when the tokenizer data is unavailable.
func HeuristicCounter(bytesPerToken int) TokenCounter {
	if bytesPerToken <= 0 {
		bytesPerToken = 4
	}
	return func(text string) int {
		return (len(text) + bytesPerToken - 1) / bytesPerToken
	}
}
