package wire

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// SchemaVersion is the latest version of the record schema. It is implicitly
// 0 for peers that never published a "v" key.
const SchemaVersion = 1

const (
	keyVersion   = "v"
	keyRound     = "round"
	keyState     = "state"
	keyAttempt   = "attempt"
	keyStarted   = "started"
	keyUpdatedAt = "updated-at"
)

// ErrAbsent indicates that a data bag contains no record at all, as opposed
// to a malformed one. A unit that has never participated publishes nothing.
var ErrAbsent = errors.New("no record present")

// DecodeError indicates that a peer published a record this library version
// cannot make sense of. It is recoverable: the observing unit excludes the
// peer from its view and carries on.
type DecodeError struct {
	Key   string
	Value string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed record key %q value %q: %v", e.Key, e.Value, e.Err)
}

// Record is one unit's published rolling-operation state. The State field is
// kept as its wire string here; interpreting it is the caller's concern so
// that this package stays oblivious to protocol semantics.
type Record struct {
	Version   int
	Round     string
	State     string
	Attempt   int
	Started   bool
	UpdatedAt time.Time
}

// Encode converts a record into the flat key-value form the exchange stores.
func Encode(rec Record) map[string]string {
	data := map[string]string{
		keyVersion: strconv.Itoa(rec.Version),
		keyRound:   rec.Round,
		keyState:   rec.State,
		keyAttempt: strconv.Itoa(rec.Attempt),
		keyStarted: strconv.FormatBool(rec.Started),
	}
	if !rec.UpdatedAt.IsZero() {
		data[keyUpdatedAt] = rec.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return data
}

// Decode reads a record back out of a data bag. It returns ErrAbsent if the
// bag holds no record, and a *DecodeError if it holds one this version cannot
// parse. Unrecognized keys are ignored for forward compatibility.
func Decode(data map[string]string) (Record, error) {
	state, ok := data[keyState]
	if !ok {
		return Record{}, ErrAbsent
	}
	rec := Record{
		State: state,
		Round: data[keyRound],
	}

	if v, ok := data[keyVersion]; ok {
		version, err := strconv.Atoi(v)
		if err != nil {
			return Record{}, &DecodeError{Key: keyVersion, Value: v, Err: err}
		}
		rec.Version = version
	}
	if a, ok := data[keyAttempt]; ok {
		attempt, err := strconv.Atoi(a)
		if err != nil {
			return Record{}, &DecodeError{Key: keyAttempt, Value: a, Err: err}
		}
		rec.Attempt = attempt
	}
	if s, ok := data[keyStarted]; ok {
		started, err := strconv.ParseBool(s)
		if err != nil {
			return Record{}, &DecodeError{Key: keyStarted, Value: s, Err: err}
		}
		rec.Started = started
	}
	// The timestamp is advisory and optional, but if present it must parse.
	if ts, ok := data[keyUpdatedAt]; ok {
		updatedAt, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Record{}, &DecodeError{Key: keyUpdatedAt, Value: ts, Err: err}
		}
		rec.UpdatedAt = updatedAt
	}
	return rec, nil
}
