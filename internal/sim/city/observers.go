package city

import (
	"time"

	"microcity.dev/internal/protocol"
	"microcity.dev/internal/sim/ledger"
	"microcity.dev/internal/sim/zones"
)

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

// TickLogEntry is one replayable tick. Clock readings let a replay fire
// development timers at the same positions relative to commands and ticks.
type TickLogEntry struct {
	Tick     uint64            `json:"tick"`
	Clock    time.Duration     `json:"clock_ns"`
	Commands []RecordedCommand `json:"commands,omitempty"`
	Zones    zones.StepStats   `json:"zones"`
	Report   ledger.Report     `json:"report"`
	Layout   string            `json:"layout"`
	Digest   string            `json:"digest"`
}

type RecordedCommand struct {
	Actor string              `json:"actor"`
	Clock time.Duration       `json:"clock_ns"`
	Cmd   protocol.CommandMsg `json:"cmd"`
	OK    bool                `json:"ok"`
	Code  string              `json:"code,omitempty"`
}

type AuditEntry struct {
	Tick   uint64 `json:"tick"`
	Actor  string `json:"actor"`
	Action string `json:"action"` // e.g. "SET_TILE"
	Pos    [2]int `json:"pos"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}
