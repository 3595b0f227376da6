package engine

import (
	"log/slog"
	"math"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator approximates how many tokens a model will see for text.
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// CharEstimator counts runes and divides by CharsPerToken.
type CharEstimator struct {
	CharsPerToken float64
}

func (e CharEstimator) EstimateTokens(text string) int {
	cpt := e.CharsPerToken
	if cpt <= 0 {
		cpt = DefaultCharsPerToken
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / cpt))
}

// TiktokenEstimator counts BPE tokens with a tiktoken encoding.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator accepts an encoding name ("cl100k_base") or a model name.
func NewTiktokenEstimator(encodingOrModel string) (*TiktokenEstimator, error) {
	enc, err := tiktoken.GetEncoding(encodingOrModel)
	if err != nil {
		enc, err = tiktoken.EncodingForModel(encodingOrModel)
		if err != nil {
			return nil, err
		}
	}
	return &TiktokenEstimator{enc: enc}, nil
}

func (e *TiktokenEstimator) EstimateTokens(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}

// NewTokenEstimator returns a tiktoken estimator when encoding is set and
// loadable, otherwise the character estimate.
func NewTokenEstimator(encoding string, charsPerToken float64) TokenEstimator {
	if encoding != "" {
		te, err := NewTiktokenEstimator(encoding)
		if err == nil {
			return te
		}
		slog.Warn("tokens: tiktoken encoding unavailable, using character estimate",
			slog.String("encoding", encoding), slog.Any("error", err))
	}
	return CharEstimator{CharsPerToken: charsPerToken}
}
