// Package classifier is the client side of the ML model service that labels
// URLs and email bodies and explains its predictions.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnavailable wraps failures reaching the model service.
var ErrUnavailable = errors.New("classifier unavailable")

// Prediction is a model's answer for one input.
type Prediction struct {
	Index      int     `json:"label"`
	Label      string  `json:"-"`
	Confidence float64 `json:"confidence"`
}

// Attribution is one token's contribution to a prediction. It travels as a
// two-element [token, score] array.
type Attribution struct {
	Token string
	Score float64
}

func (a Attribution) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{a.Token, a.Score})
}

func (a *Attribution) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("attribution: expected [token, score], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &a.Token); err != nil {
		return fmt.Errorf("attribution token: %w", err)
	}
	if err := json.Unmarshal(pair[1], &a.Score); err != nil {
		return fmt.Errorf("attribution score: %w", err)
	}
	return nil
}

// Classifier labels text and explains the label.
type Classifier interface {
	Classify(ctx context.Context, text string) (Prediction, error)
	Explain(ctx context.Context, text string, target int) ([]Attribution, error)
}

// LabelFunc names a model's class index.
type LabelFunc func(index int) string

// URLLabel names the URL model's classes.
func URLLabel(index int) string {
	if index == 0 {
		return "Phishing"
	}
	return "Safe"
}

// EmailLabel names the email model's classes.
func EmailLabel(index int) string {
	if index == 1 {
		return "Spam"
	}
	return "Legitimate"
}
