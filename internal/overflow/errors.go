package overflow

import "errors"

// ErrCorrupt is raised when a record header read back from the data file
// fails its parity or consistency check (§7, "Parity/consistency failure
// on read"). During steady state it fails the current request; during
// startup recovery it aborts opening the engine.
var ErrCorrupt = errors.New("overflow: corrupt record or inconsistent channel state")

// ErrChannelIDsExhausted is raised by getOrCreate when every uint32 channel
// id is already in use (§4.5.5).
var ErrChannelIDsExhausted = errors.New("overflow: channel id space exhausted")

// ErrRecovery wraps any failure encountered while replaying the index file
// and record chains at startup (§4.5.9). All recovery failures are fatal.
var ErrRecovery = errors.New("overflow: recovery failed")

// ErrUnknownChannel is returned by handle operations against a channel name
// the engine has no metadata for.
var ErrUnknownChannel = errors.New("overflow: unknown channel")

// ErrIndexParse is raised for any malformed index file line: wrong field
// count, invalid storage name, or an empty channel recorded in the index
// (§4.3, §7 "Index parse failure"). Fatal at startup.
var ErrIndexParse = errors.New("overflow: index file parse error")
