// Package ledger implements ActionLedger & Rollback (spec.md §4.4): the
// durable record of reversible operations and the machinery to undo them.
package ledger

import "time"

// StrategyKind is the closed tagged-variant discriminator for a
// RollbackStrategy (spec.md §3 ActionRecord.rollback_strategy), mirroring
// the errkind.Kind closed-string-enum pattern used throughout this module.
type StrategyKind string

const (
	StrategyDelete                 StrategyKind = "delete"
	StrategyRestore                StrategyKind = "restore"
	StrategyMoveBack               StrategyKind = "move_back"
	StrategyUninstall              StrategyKind = "uninstall"
	StrategyReinstall              StrategyKind = "reinstall"
	StrategyGitReset               StrategyKind = "git_reset"
	StrategyServiceStop            StrategyKind = "service_stop"
	StrategyServiceStart           StrategyKind = "service_start"
	StrategyContainerStopAndRemove StrategyKind = "container_stop_and_remove"
	StrategyNone                   StrategyKind = "none"
)

// RollbackStrategy is the tagged variant from spec.md §3. Only the fields
// relevant to Kind are populated; the rest are zero.
type RollbackStrategy struct {
	Kind StrategyKind `bson:"kind" json:"kind"`

	Path        string `bson:"path,omitempty" json:"path,omitempty"`
	BackupPath  string `bson:"backup_path,omitempty" json:"backup_path,omitempty"`
	From        string `bson:"from,omitempty" json:"from,omitempty"`
	To          string `bson:"to,omitempty" json:"to,omitempty"`
	Pkg         string `bson:"pkg,omitempty" json:"pkg,omitempty"`
	Hash        string `bson:"hash,omitempty" json:"hash,omitempty"`
	Name        string `bson:"name,omitempty" json:"name,omitempty"`
	ContainerID string `bson:"container_id,omitempty" json:"container_id,omitempty"`
}

// ActionRecord is a ledger entry (spec.md §3). StepIndex is the Step's
// position in its IntentIR, stored alongside the ledger's own completion
// order so replay can reconstruct IR order even though concurrent steps
// within a level may complete out of order (spec.md §5 "Ordering
// guarantees").
type ActionRecord struct {
	ID               int64            `bson:"id" json:"id"`
	TxnID            string           `bson:"txn_id" json:"txn_id"`
	StepIndex        int              `bson:"step_index" json:"step_index"`
	Timestamp        time.Time        `bson:"timestamp" json:"timestamp"`
	Tool             string           `bson:"tool" json:"tool"`
	Action           string           `bson:"action" json:"action"`
	Args             map[string]any   `bson:"args" json:"args"`
	Result           string           `bson:"result" json:"result"`
	Reversible       bool             `bson:"reversible" json:"reversible"`
	RollbackStrategy RollbackStrategy `bson:"rollback_strategy" json:"rollback_strategy"`
	RolledBack       bool             `bson:"rolled_back" json:"rolled_back"`
}

// TxnStatus enumerates a Transaction's lifecycle state.
type TxnStatus string

const (
	TxnInProgress TxnStatus = "in_progress"
	TxnCompleted  TxnStatus = "completed"
	TxnFailed     TxnStatus = "failed"
	TxnRolledBack TxnStatus = "rolled_back"
)

// Transaction groups ActionRecords produced by one top-level user input
// (spec.md §3).
type Transaction struct {
	ID        string    `bson:"id" json:"id"`
	Start     time.Time `bson:"start" json:"start"`
	End       time.Time `bson:"end,omitempty" json:"end,omitempty"`
	UserInput string    `bson:"user_input" json:"user_input"`
	Goal      string    `bson:"goal" json:"goal"`
	Status    TxnStatus `bson:"status" json:"status"`
}

// InverseStep is the (tool, action, args) triple computed from a
// RollbackStrategy, ready to execute through the StepExecutor.
type InverseStep struct {
	Tool   string
	Action string
	Args   map[string]any
}

// inverseStepFor computes the inverse (tool, action, args) for a strategy,
// matching the tool the original ActionRecord used (inverse operations run
// through the same ToolRegistry entry, under an action naming convention
// the strategy tag already encodes — e.g. "delete{path}" names the
// operation needed to undo a create).
func inverseStepFor(tool string, s RollbackStrategy) (InverseStep, bool) {
	switch s.Kind {
	case StrategyDelete:
		return InverseStep{Tool: tool, Action: "delete", Args: map[string]any{"path": s.Path}}, true
	case StrategyRestore:
		return InverseStep{Tool: tool, Action: "restore", Args: map[string]any{"backup_path": s.BackupPath}}, true
	case StrategyMoveBack:
		return InverseStep{Tool: tool, Action: "move", Args: map[string]any{"from": s.From, "to": s.To}}, true
	case StrategyUninstall:
		return InverseStep{Tool: tool, Action: "uninstall", Args: map[string]any{"pkg": s.Pkg}}, true
	case StrategyReinstall:
		return InverseStep{Tool: tool, Action: "install", Args: map[string]any{"pkg": s.Pkg}}, true
	case StrategyGitReset:
		return InverseStep{Tool: tool, Action: "reset", Args: map[string]any{"hash": s.Hash}}, true
	case StrategyServiceStop:
		return InverseStep{Tool: tool, Action: "stop", Args: map[string]any{"name": s.Name}}, true
	case StrategyServiceStart:
		return InverseStep{Tool: tool, Action: "start", Args: map[string]any{"name": s.Name}}, true
	case StrategyContainerStopAndRemove:
		return InverseStep{Tool: tool, Action: "stop_and_remove", Args: map[string]any{"id": s.ContainerID}}, true
	default: // StrategyNone or unrecognized
		return InverseStep{}, false
	}
}
