package matter

import "fmt"

// NodeState is the lifecycle state of a device Node.
//
//	Initialized -> Starting -> Uncommissioned | CommissioningOpen | Commissioned
//	                        -> Stopping -> Stopped
//
// The three running states follow the fabric table and the commissioning
// window.
type NodeState int

const (
	NodeStateInitialized NodeState = iota
	NodeStateStarting
	NodeStateUncommissioned
	// NodeStateCommissioningOpen accepts PASE and is advertised as
	// commissionable.
	NodeStateCommissioningOpen
	// NodeStateCommissioned holds at least one fabric and is advertised as
	// operational.
	NodeStateCommissioned
	NodeStateStopping
	NodeStateStopped
)

var nodeStateNames = [...]string{
	NodeStateInitialized:       "Initialized",
	NodeStateStarting:          "Starting",
	NodeStateUncommissioned:    "Uncommissioned",
	NodeStateCommissioningOpen: "CommissioningOpen",
	NodeStateCommissioned:      "Commissioned",
	NodeStateStopping:          "Stopping",
	NodeStateStopped:           "Stopped",
}

func (s NodeState) String() string {
	if s >= 0 && int(s) < len(nodeStateNames) {
		return nodeStateNames[s]
	}
	return fmt.Sprintf("NodeState(%d)", int(s))
}

// IsRunning reports whether the node serves peers.
func (s NodeState) IsRunning() bool {
	switch s {
	case NodeStateUncommissioned, NodeStateCommissioningOpen, NodeStateCommissioned:
		return true
	}
	return false
}

// CanStart reports whether Start is allowed. A stopped node is not restarted.
func (s NodeState) CanStart() bool { return s == NodeStateInitialized }

// CanStop reports whether Stop is allowed.
func (s NodeState) CanStop() bool { return s == NodeStateStarting || s.IsRunning() }
