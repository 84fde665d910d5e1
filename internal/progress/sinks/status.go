package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/mixtape-indexer/internal/progress"
)

// ChainStatus is the latest known state of one chain.
type ChainStatus struct {
	Chain             string    `json:"chain"`
	LastRunID         string    `json:"last_run_id,omitempty"`
	LastFinishedAt    time.Time `json:"last_finished_at,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
	ContractsIndexed  int       `json:"contracts_indexed"`
	TokensStored      int       `json:"tokens_stored"`
	TokensAbandoned   int       `json:"tokens_abandoned"`
	DirectoryAdded    int       `json:"directory_added"`
	LastPublishFailed bool      `json:"last_publish_failed"`
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	LastRunID       string        `json:"last_run_id,omitempty"`
	LastRunStarted  time.Time     `json:"last_run_started,omitempty"`
	LastRunFinished time.Time     `json:"last_run_finished,omitempty"`
	Running         bool          `json:"running"`
	Chains          []ChainStatus `json:"chains"`
}

// StatusSink keeps cumulative counters per chain for the status endpoint.
type StatusSink struct {
	mu     sync.RWMutex
	status Status
	chains map[string]*ChainStatus
	order  []string
}

// NewStatusSink builds an empty status board.
func NewStatusSink() *StatusSink {
	return &StatusSink{chains: make(map[string]*ChainStatus)}
}

// Consume folds the batch into the board.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		runID := evt.RunUUID().String()
		switch evt.Stage {
		case progress.StageRunStart:
			s.status.LastRunID = runID
			s.status.LastRunStarted = evt.TS
			s.status.Running = true
			continue
		case progress.StageRunDone:
			s.status.LastRunFinished = evt.TS
			s.status.Running = false
			continue
		}
		if evt.Chain == "" {
			continue
		}
		cs := s.chain(evt.Chain)
		switch evt.Stage {
		case progress.StageChainDone:
			cs.LastRunID, cs.LastFinishedAt, cs.LastError = runID, evt.TS, ""
		case progress.StageChainError:
			cs.LastRunID, cs.LastFinishedAt, cs.LastError = runID, evt.TS, evt.Note
		case progress.StageContractDone:
			cs.ContractsIndexed++
		case progress.StageTokenDone:
			cs.TokensStored++
		case progress.StageTokenAbandoned:
			cs.TokensAbandoned++
		case progress.StageDirectoryDone:
			cs.DirectoryAdded += evt.Count
		case progress.StagePublishDone:
			cs.LastPublishFailed = false
		case progress.StagePublishError:
			cs.LastPublishFailed = true
		}
	}
	return nil
}

func (s *StatusSink) chain(name string) *ChainStatus {
	cs, ok := s.chains[name]
	if !ok {
		cs = &ChainStatus{Chain: name}
		s.chains[name] = cs
		s.order = append(s.order, name)
	}
	return cs
}

// Snapshot returns a copy of the board.
func (s *StatusSink) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.status
	out.Chains = make([]ChainStatus, 0, len(s.order))
	for _, name := range s.order {
		out.Chains = append(out.Chains, *s.chains[name])
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
