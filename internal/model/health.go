package model

// RegistryRecord is the payload a node registers under its name in the
// coordination registry
type RegistryRecord struct {
	NodeName string `json:"NodeName"`
	NodeHost string `json:"NodeHost"`
	NodePort int    `json:"NodePort"`
}

// NodeStatus defines the liveness of a node as seen by the failure detector
type NodeStatus string

const (
	NodeStatusHealthy      NodeStatus = "healthy"
	NodeStatusUnresponsive NodeStatus = "unresponsive"
)

// ProbeResult is the outcome of probing one node
type ProbeResult struct {
	NodeName string
	Addr     string
	Status   NodeStatus
	Err      error
}

// FailureReport is written to the registry after every detection cycle
type FailureReport struct {
	FailedNodes []string `json:"failed_nodes"`
	Probed      int      `json:"probed"`
	Timestamp   int64    `json:"timestamp"`
}
