package model

import (
	"fmt"
	"time"
)

// ActionKind classifies a proposal produced by the decision engine.
type ActionKind string

const (
	ActionNone        ActionKind = "NONE"
	ActionRouteChange ActionKind = "ROUTE_CHANGE"
	ActionAlertHuman  ActionKind = "ALERT_HUMAN"
)

// ActionProposal is the single outcome of the decide stage.
type ActionProposal struct {
	Kind          ActionKind `json:"kind"`
	TargetRegion  string     `json:"target_region,omitempty"`
	TargetGateway string     `json:"target_gateway,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	ProposedAt    time.Time  `json:"proposed_at"`
}

// IsRouteChange reports whether the proposal carries an executable reroute.
func (p *ActionProposal) IsRouteChange() bool {
	return p != nil && p.Kind == ActionRouteChange && p.TargetRegion != "" && p.TargetGateway != ""
}

func (p ActionProposal) String() string {
	switch p.Kind {
	case ActionRouteChange:
		return fmt.Sprintf("update_routing region=%s gateway=%s", p.TargetRegion, p.TargetGateway)
	default:
		return string(p.Kind)
	}
}

// ActionRecord is an executed routing change. Records are append-only.
type ActionRecord struct {
	ID              string    `json:"id"`
	ThreadID        string    `json:"thread_id"`
	CycleID         string    `json:"cycle_id"`
	Region          string    `json:"region"`
	Gateway         string    `json:"gateway"`
	PreviousGateway string    `json:"previous_gateway,omitempty"`
	Result          string    `json:"result"`
	ExecutedAt      time.Time `json:"executed_at"`
}

// Matches reports whether the record rerouted region to gateway.
func (r ActionRecord) Matches(region, gateway string) bool {
	return r.Region == region && r.Gateway == gateway
}

// LastK returns the trailing k records of history, oldest first.
func LastK(history []ActionRecord, k int) []ActionRecord {
	if k <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) <= k {
		return append([]ActionRecord(nil), history...)
	}
	return append([]ActionRecord(nil), history[len(history)-k:]...)
}
