package store

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kartoza/bridge-predict/internal/attachment"
	"github.com/kartoza/bridge-predict/internal/events"
	"github.com/kartoza/bridge-predict/internal/params"
)

// decimalNumber is the plain decimal form a number input produces. Other
// forms strconv accepts (hex floats, Inf, NaN) are rejected.
var decimalNumber = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// ErrUnknownField is returned for identifiers missing from the field table
var ErrUnknownField = errors.New("unknown parameter field")

// Snapshot is an immutable point-in-time copy of the store
type Snapshot struct {
	Params   params.Set
	Image    *attachment.Attachment
	HasImage bool
}

// Store holds the current parameter set and image attachment of one session
type Store struct {
	mu     sync.Mutex
	params params.Set
	image  *attachment.Attachment
	// uploadGen identifies the latest upload; decodes finishing with an
	// older generation are discarded
	uploadGen uint64
	decoding  bool

	bus    *events.Bus
	logger *zap.Logger
}

// New creates a store seeded with the default parameter set
func New(bus *events.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		params: params.Defaults(),
		bus:    bus,
		logger: logger.Named("store"),
	}
}

// SetParameter parses raw as a float and stores it. Unparseable, empty or
// non-finite input leaves the field unchanged and reports false. Values
// outside the field bounds are stored as given.
func (s *Store) SetParameter(id params.FieldID, raw string) (bool, error) {
	if _, ok := params.Lookup(id); !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownField, id)
	}

	raw = strings.TrimSpace(raw)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || !decimalNumber.MatchString(raw) || !params.IsFinite(v) {
		s.logger.Debug("ignoring unparseable parameter input",
			zap.String("field", string(id)),
			zap.String("raw", raw))
		return false, nil
	}

	s.mu.Lock()
	s.params[id] = v
	s.mu.Unlock()
	return true, nil
}

// ClearParameter marks a field as unset, as an emptied input box does.
// Validation rejects the set until the field is filled again.
func (s *Store) ClearParameter(id params.FieldID) error {
	if _, ok := params.Lookup(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, id)
	}

	s.mu.Lock()
	s.params[id] = math.NaN()
	s.mu.Unlock()
	return nil
}

// Load replaces every known field with the values from set. Fields absent
// from set are left unchanged.
func (s *Store) Load(set params.Set) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range params.IDs() {
		if v, ok := set[id]; ok {
			s.params[id] = v
		}
	}
}

// SetImage replaces the attachment with the given payload. Decoding happens
// in the background; the returned channel yields the decode result once and
// is then closed. A later SetImage or ClearImage supersedes a pending one.
func (s *Store) SetImage(data []byte, mimeType, filename string) <-chan error {
	done := make(chan error, 1)

	payload := make([]byte, len(data))
	copy(payload, data)

	s.mu.Lock()
	s.uploadGen++
	gen := s.uploadGen
	s.decoding = true
	s.mu.Unlock()

	go func() {
		defer close(done)

		a, err := attachment.Decode(payload, mimeType, filename)

		s.mu.Lock()
		if gen != s.uploadGen {
			s.mu.Unlock()
			s.logger.Debug("discarding superseded image upload", zap.Uint64("generation", gen))
			done <- nil
			return
		}
		s.decoding = false
		if err == nil {
			s.image = a
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("image upload rejected", zap.String("filename", filename), zap.Error(err))
			s.notify(events.LevelError, "Could not read image", "Please upload a PNG, JPEG or GIF photograph of your bridge.")
			done <- err
			return
		}

		s.logger.Info("image attached",
			zap.String("filename", a.Filename),
			zap.Int("size", a.Size),
			zap.Int("width", a.Width),
			zap.Int("height", a.Height))
		s.notify(events.LevelSuccess, "Bridge image uploaded!", "Your spaghetti bridge image is ready for analysis.")
		done <- nil
	}()

	return done
}

// ClearImage removes the attachment and discards any pending decode
func (s *Store) ClearImage() {
	s.mu.Lock()
	s.uploadGen++
	s.decoding = false
	s.image = nil
	s.mu.Unlock()
}

// Decoding reports whether an image upload is still being decoded
func (s *Store) Decoding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decoding
}

// ApplyDetectedAngles overwrites the angle fields with values detected by
// the prediction service. Nil values leave the field untouched. It reports
// whether any field changed.
func (s *Store) ApplyDetectedAngles(inclination, declination *float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	if inclination != nil && params.IsFinite(*inclination) {
		s.params[params.InclinationAngle] = *inclination
		changed = true
	}
	if declination != nil && params.IsFinite(*declination) {
		s.params[params.DeclinationAngle] = *declination
		changed = true
	}
	return changed
}

// Snapshot returns an immutable copy of the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Params:   s.params.Clone(),
		Image:    s.image,
		HasImage: s.image != nil,
	}
}

func (s *Store) notify(level events.Level, title, description string) {
	if s.bus != nil {
		s.bus.Notify(level, title, description)
	}
}
