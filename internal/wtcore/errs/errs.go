// Package errs defines the storage core's error taxonomy.
//
// Every sentinel below is comparable with errors.Is; callers that need the
// underlying call site use github.com/pkg/errors.Cause or errors.Unwrap.
package errs

import "github.com/pkg/errors"

// Sentinel errors surfaced across the block manager, cache, hazard
// acquisition, and reconciliation. See spec §6-7 for the taxonomy.
var (
	// NotFound is returned when a page, key, or eviction candidate does
	// not exist. Surfaced verbatim to cursors.
	NotFound = errors.New("wtcore: not found")

	// Restart is transient: the operation should be retried by its
	// caller (contended request table, hazard-acquire race).
	Restart = errors.New("wtcore: restart")

	// DuplicateKey is returned by an insert that collides with an
	// existing key under a uniqueness constraint.
	DuplicateKey = errors.New("wtcore: duplicate key")

	// Busy means a page is contended for eviction; try another
	// candidate or retry later.
	Busy = errors.New("wtcore: busy")

	// Invalid marks malformed configuration, bad page sizes, unknown
	// cell types, or invalid address cookies. Fatal to the operation,
	// not to the connection.
	Invalid = errors.New("wtcore: invalid argument")

	// Exist is returned when create() targets a file that already
	// exists.
	Exist = errors.New("wtcore: already exists")

	// NoEnt is returned when open() targets a file that does not
	// exist and create was not requested.
	NoEnt = errors.New("wtcore: no such file")

	// NoSpace is a short-on-space error from the block manager; the
	// caller must surface it unchanged.
	NoSpace = errors.New("wtcore: no space")

	// NotSupported marks a requested feature or configuration
	// combination the core does not implement.
	NotSupported = errors.New("wtcore: not supported")

	// Corruption marks structural corruption detected during read (bad
	// checksum, invalid cell stream). Triggers salvage if the caller
	// opened in salvage mode.
	Corruption = errors.New("wtcore: corruption")

	// NoMemory marks a resource failure: allocation failure or a full
	// session table. The connection remains usable.
	NoMemory = errors.New("wtcore: resource exhausted")
)

// Wrap attaches file/line context to err via github.com/pkg/errors,
// preserving errors.Is comparability against the sentinels above.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// Is reports whether err or any error it wraps matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// Transient reports whether err should be retried by its immediate
// caller rather than propagated to the operation's entry point
// (spec §7 propagation policy).
func Transient(err error) bool {
	return Is(err, Restart) || Is(err, Busy)
}
