package sentinelmgr

import "github.com/pkg/errors"

// Sentinel error values for the fatal-at-construction/bootstrap cases of
// spec §7 kinds 1–3. Steady-state failures (kinds 4–7) never surface here;
// they are logged and drive the scheduler/DNS monitor's own retry
// decisions.
var (
	// ErrConfig is returned, wrapped with detail, when required
	// configuration is missing (spec §7 kind 1).
	ErrConfig = errors.New("sentinelmgr: invalid configuration")
	// ErrUnreachable is returned when no seed Sentinel could be reached at
	// all during bootstrap (spec §7 kind 2).
	ErrUnreachable = errors.New("sentinelmgr: unable to connect to any seed sentinel")
	// ErrAuthRequired is returned when a Sentinel demands authentication
	// that was not configured (spec §7 kind 3).
	ErrAuthRequired = errors.New("sentinelmgr: sentinel requires authentication")
	// ErrNoMaster is returned when bootstrap completes without ever
	// learning a master address (spec §4.6 step 5).
	ErrNoMaster = errors.New("sentinelmgr: can't connect to servers")
	// ErrTooFewSentinels is returned by the membership sanity check (spec
	// §4.6 step 4).
	ErrTooFewSentinels = errors.New("sentinelmgr: checkSentinelsList requires at least two discovered sentinels")
)
