package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"depthwatch/internal/symbols"
	"depthwatch/models"
)

var (
	// ErrMalformedMessage marks a stream frame that cannot become an update.
	ErrMalformedMessage = errors.New("binance: malformed stream message")
	// ErrStaleConnection is returned when no frame arrived within the stale window.
	ErrStaleConnection = errors.New("binance: stream stale")
)

// MalformedError describes why a frame was rejected.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrMalformedMessage, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrMalformedMessage, e.Reason)
}

func (e *MalformedError) Is(target error) bool { return target == ErrMalformedMessage }

func (e *MalformedError) Unwrap() error { return e.Err }

func malformed(reason string, err error) error {
	return &MalformedError{Reason: reason, Err: err}
}

// combinedFrame is the envelope of the multiplexed /stream endpoint.
type combinedFrame struct {
	Stream string      `json:"stream"`
	Data   *depthEvent `json:"data"`
}

// depthEvent is a diff depth payload. Pointers tell missing fields apart
// from zero values.
type depthEvent struct {
	EventType     string      `json:"e"`
	EventTime     int64       `json:"E"`
	Symbol        *string     `json:"s"`
	FirstUpdateID *int64      `json:"U"`
	FinalUpdateID *int64      `json:"u"`
	Bids          *[][]string `json:"b"`
	Asks          *[][]string `json:"a"`
}

// decodeDepthFrame turns one combined stream frame into an update. Any
// structural problem yields a *MalformedError.
func decodeDepthFrame(raw []byte, receivedAt time.Time) (models.DepthUpdate, error) {
	var frame combinedFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return models.DepthUpdate{}, malformed("invalid_json", err)
	}
	if frame.Data == nil {
		return models.DepthUpdate{}, malformed("missing_data", nil)
	}

	ev := frame.Data
	switch {
	case ev.Symbol == nil || *ev.Symbol == "":
		return models.DepthUpdate{}, malformed("missing_symbol", nil)
	case ev.FinalUpdateID == nil:
		return models.DepthUpdate{}, malformed("missing_update_id", nil)
	case ev.Bids == nil:
		return models.DepthUpdate{}, malformed("missing_bids", nil)
	case ev.Asks == nil:
		return models.DepthUpdate{}, malformed("missing_asks", nil)
	}

	bids, err := toLevels(*ev.Bids)
	if err != nil {
		return models.DepthUpdate{}, err
	}
	asks, err := toLevels(*ev.Asks)
	if err != nil {
		return models.DepthUpdate{}, err
	}

	u := models.DepthUpdate{
		Symbol:     symbols.Normalize(*ev.Symbol),
		Bids:       bids,
		Asks:       asks,
		UpdateID:   *ev.FinalUpdateID,
		Source:     models.SourceStream,
		ReceivedAt: receivedAt,
	}
	if ev.FirstUpdateID != nil {
		u.FirstUpdateID = *ev.FirstUpdateID
	}
	return u, nil
}

func toLevels(pairs [][]string) ([]models.Level, error) {
	levels := make([]models.Level, 0, len(pairs))
	for _, p := range pairs {
		if len(p) != 2 {
			return nil, malformed("invalid_level", fmt.Errorf("expected [price, qty], got %d fields", len(p)))
		}
		levels = append(levels, models.Level{Price: p[0], Quantity: p[1]})
	}
	return levels, nil
}

// malformedReason extracts the metric label for a decode error.
func malformedReason(err error) string {
	var me *MalformedError
	if errors.As(err, &me) {
		return me.Reason
	}
	return "unknown"
}
