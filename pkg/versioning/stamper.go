// Package versioning stamps documents and records with a monotonically
// increasing version counter.
//
// Two separately named operations exist on purpose. StampDocument increments
// the version field and rewrites the last-change timestamp of a raw document.
// StampRecord increments the version of an application record and does not
// touch any timestamp; timestamps only exist at the document level.
package versioning

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/chronicle/pkg/document"
)

const (
	// VersionField holds the per-document mutation counter.
	VersionField = "_version"

	// LastChangeField holds the time of the last audited mutation.
	LastChangeField = "_lastChange"
)

// ErrCorruptVersion is wrapped by CorruptVersionError.
var ErrCorruptVersion = errors.New("version field is not an integer")

// CorruptVersionError reports a version field that cannot be read as an
// integer. The document is left untouched.
type CorruptVersionError struct {
	Value any
}

func (e *CorruptVersionError) Error() string {
	return fmt.Sprintf("%s: %v (%T)", ErrCorruptVersion, e.Value, e.Value)
}

func (e *CorruptVersionError) Unwrap() error {
	return ErrCorruptVersion
}

// VersionedRecord is an application record exposing its document version.
type VersionedRecord interface {
	DocumentVersion() *int
	SetDocumentVersion(version *int)
}

// Stamper applies version stamps. The zero value uses time.Now.
type Stamper struct {
	// Now is overridable for deterministic tests.
	Now func() time.Time
}

// NewStamper creates a Stamper using time.Now.
func NewStamper() *Stamper {
	return &Stamper{Now: time.Now}
}

func (s *Stamper) now() time.Time {
	if s == nil || s.Now == nil {
		return time.Now().UTC().Truncate(time.Millisecond)
	}
	// Stores keep millisecond precision; truncating here keeps in-memory and
	// persisted timestamps equal.
	return s.Now().UTC().Truncate(time.Millisecond)
}

// Time returns the timestamp StampDocument would write now.
func (s *Stamper) Time() time.Time {
	return s.now()
}

// Freeze returns a Stamper whose clock is fixed at the current instant, so
// several documents can be stamped with the same timestamp.
func (s *Stamper) Freeze() *Stamper {
	t := s.now()
	return &Stamper{Now: func() time.Time { return t }}
}

// StampDocument increments the version of doc (starting at 1) and overwrites
// its last-change timestamp.
func (s *Stamper) StampDocument(doc *document.Document) error {
	next := int64(1)
	if raw, ok := doc.Lookup(VersionField); ok {
		current, err := ParseVersion(raw)
		if err != nil {
			return err
		}
		next = current + 1
	}
	doc.Set(VersionField, encodeVersion(next))
	doc.Set(LastChangeField, s.now())
	return nil
}

// StampRecord increments the version of a record, starting at 1.
func (s *Stamper) StampRecord(r VersionedRecord) {
	next := 1
	if current := r.DocumentVersion(); current != nil {
		next = *current + 1
	}
	r.SetDocumentVersion(&next)
}

// Version reads the version of a view.
func Version(v document.View) (int64, bool, error) {
	raw, ok := v.Lookup(VersionField)
	if !ok {
		return 0, false, nil
	}
	n, err := ParseVersion(raw)
	if err != nil {
		return 0, true, err
	}
	return n, true, nil
}

// ParseVersion converts a stored version value into an integer. Integral
// floats are accepted because JSON-backed stores decode numbers that way.
func ParseVersion(raw any) (int64, error) {
	switch v := raw.(type) {
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, &CorruptVersionError{Value: raw}
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, &CorruptVersionError{Value: raw}
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, &CorruptVersionError{Value: raw}
		}
		return n, nil
	default:
		return 0, &CorruptVersionError{Value: raw}
	}
}

func encodeVersion(n int64) any {
	if n <= math.MaxInt32 && n >= math.MinInt32 {
		return int32(n)
	}
	return n
}
