package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type RepetitionType string

const (
	// RepetitionRelative fires Duration after the previous execution started.
	RepetitionRelative RepetitionType = "RELATIVE"
	// RepetitionAbsolute fires on multiples of Duration counted from the Unix epoch.
	RepetitionAbsolute RepetitionType = "ABSOLUTE"
	// RepetitionCron fires on the instants described by a standard cron expression.
	RepetitionCron RepetitionType = "CRON"
)

// Unlimited is the Qty sentinel for schedules that never exhaust.
const Unlimited = -1

// Once runs a schedule a single time, immediately.
var Once = Repetition{Duration: 0, Type: RepetitionAbsolute, Qty: 1}

// Repetition is a value type; == compares every field.
type Repetition struct {
	Duration time.Duration
	Type     RepetitionType
	Qty      int
	Expr     string
}

func NewRepetition(d time.Duration, typ RepetitionType, qty int) (Repetition, error) {
	if d < 0 {
		return Repetition{}, fmt.Errorf("%w: negative duration %s", ErrInvalidRepetition, d)
	}
	if typ != RepetitionRelative && typ != RepetitionAbsolute {
		return Repetition{}, fmt.Errorf("%w: unknown type %q", ErrInvalidRepetition, typ)
	}
	if qty < Unlimited {
		return Repetition{}, fmt.Errorf("%w: qty %d", ErrInvalidRepetition, qty)
	}
	return Repetition{Duration: d, Type: typ, Qty: qty}, nil
}

func NewCronRepetition(expr string, qty int) (Repetition, error) {
	if _, err := cron.ParseStandard(expr); err != nil {
		return Repetition{}, fmt.Errorf("%w: %q: %v", ErrInvalidCronExpr, expr, err)
	}
	if qty < Unlimited {
		return Repetition{}, fmt.Errorf("%w: qty %d", ErrInvalidRepetition, qty)
	}
	return Repetition{Type: RepetitionCron, Qty: qty, Expr: expr}, nil
}

func (r Repetition) Equal(o Repetition) bool { return r == o }

func (r Repetition) IsUnlimited() bool { return r.Qty == Unlimited }

// Validate re-checks the construction invariants; decoded values bypass the constructors.
func (r Repetition) Validate() error {
	var err error
	if r.Type == RepetitionCron {
		_, err = NewCronRepetition(r.Expr, r.Qty)
	} else {
		_, err = NewRepetition(r.Duration, r.Type, r.Qty)
	}
	return err
}

func (r Repetition) String() string {
	if r.Type == RepetitionCron {
		return fmt.Sprintf("Repetition{expr=%q, type=%s, qty=%d}", r.Expr, r.Type, r.Qty)
	}
	return fmt.Sprintf("Repetition{duration=%s, type=%s, qty=%d}", r.Duration, r.Type, r.Qty)
}

type repetitionJSON struct {
	DurationMS int64          `json:"duration_ms"`
	Type       RepetitionType `json:"type"`
	Qty        int            `json:"qty"`
	Expr       string         `json:"expr,omitempty"`
}

func (r Repetition) MarshalJSON() ([]byte, error) {
	return json.Marshal(repetitionJSON{
		DurationMS: r.Duration.Milliseconds(),
		Type:       r.Type,
		Qty:        r.Qty,
		Expr:       r.Expr,
	})
}

func (r *Repetition) UnmarshalJSON(b []byte) error {
	var raw repetitionJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	decoded := Repetition{
		Duration: time.Duration(raw.DurationMS) * time.Millisecond,
		Type:     raw.Type,
		Qty:      raw.Qty,
		Expr:     raw.Expr,
	}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*r = decoded
	return nil
}
