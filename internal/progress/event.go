package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart         Stage = "RUN_START"
	StageRunDone          Stage = "RUN_DONE"
	StageChainStart       Stage = "CHAIN_START"
	StageChainDone        Stage = "CHAIN_DONE"
	StageChainError       Stage = "CHAIN_ERROR"
	StageContractStart    Stage = "CONTRACT_START"
	StageContractDone     Stage = "CONTRACT_DONE"
	StageContractSkipped  Stage = "CONTRACT_SKIPPED"
	StageTokenDone        Stage = "TOKEN_DONE"
	StageTokenAbandoned   Stage = "TOKEN_ABANDONED"
	StageTokenAbsent      Stage = "TOKEN_ABSENT"
	StageDirectoryDone    Stage = "DIRECTORY_DONE"
	StagePublishDone      Stage = "PUBLISH_DONE"
	StagePublishError     Stage = "PUBLISH_ERROR"
	StageImageMirrored    Stage = "IMAGE_MIRRORED"
	StageImageMirrorError Stage = "IMAGE_MIRROR_ERROR"
)

// Event is one indexing milestone.
type Event struct {
	// RunID identifies the scheduler cycle using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Chain, Contract, and TokenID scope the event; which are required
	// depends on Stage.
	Chain    string
	Contract string
	TokenID  int64
	// Attempts is the number of fetch attempts a token consumed.
	Attempts int
	// Count carries a stage-specific tally, e.g. tokens stored for a
	// contract or entries added to a directory.
	Count int
	Dur   time.Duration
	// Note holds low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
		return nil
	case StageChainStart, StageChainDone, StageChainError, StageDirectoryDone, StagePublishDone, StagePublishError:
		if e.Chain == "" {
			return fmt.Errorf("%s requires chain", e.Stage)
		}
		return nil
	case StageContractStart, StageContractDone, StageContractSkipped,
		StageTokenDone, StageTokenAbandoned, StageTokenAbsent,
		StageImageMirrored, StageImageMirrorError:
		if e.Chain == "" || e.Contract == "" {
			return fmt.Errorf("%s requires chain and contract", e.Stage)
		}
		return nil
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

type runIDKey struct{}

// WithRunID stores the cycle's run id on ctx so deeper layers can stamp
// their events.
func WithRunID(ctx context.Context, id [16]byte) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom returns the run id stored by WithRunID.
func RunIDFrom(ctx context.Context) ([16]byte, bool) {
	id, ok := ctx.Value(runIDKey{}).([16]byte)
	return id, ok
}
