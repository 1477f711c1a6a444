package netinfo

import "fmt"

// Bridge describes one Docker bridge network as seen on the host. Instances
// are derived fresh from `docker network inspect` on every run.
type Bridge struct {
	Name      string
	Subnet    string
	NetworkID string
}

func (b Bridge) String() string {
	return fmt.Sprintf("%s (%s)", b.Name, b.Subnet)
}

// Minikube describes the Minikube container's network attachment. ServiceCIDR
// is resolved separately from the cluster and may be empty.
type Minikube struct {
	BridgeName  string
	ContainerIP string
	Subnet      string
	ServiceCIDR string
}
