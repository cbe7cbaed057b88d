package article

import (
	"encoding/json"
	"fmt"
	"time"
)

// DeadLetter wraps an article that permanently failed a stage. The article's
// stage is left unchanged so the failure point is recoverable from the
// envelope itself.
type DeadLetter struct {
	Article  Article   `json:"article"`
	Stage    Stage     `json:"stage"`
	Reason   string    `json:"reason"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

func NewDeadLetter(a *Article, stage Stage, reason string, err error) *DeadLetter {
	dl := &DeadLetter{
		Article:  *a,
		Stage:    stage,
		Reason:   reason,
		FailedAt: time.Now().UTC(),
	}
	if err != nil {
		dl.Error = err.Error()
	}
	return dl
}

func (d *DeadLetter) Encode() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dead letter for %s: %w", d.Article.ID, err)
	}
	return data, nil
}

func DecodeDeadLetter(data []byte) (*DeadLetter, error) {
	var d DeadLetter
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode dead letter: %w", err)
	}
	return &d, nil
}
