package runtime

import "slices"

// CapNamespace guards access to the core namespace inside workers.
const CapNamespace = "namespace"

// Permissions decides whether a capability is granted.
type Permissions interface {
	Authorize(capability string) bool
}

// AllowList grants exactly the listed capabilities. "*" grants all.
type AllowList []string

// Authorize implements Permissions.
func (a AllowList) Authorize(capability string) bool {
	return slices.Contains(a, capability) || slices.Contains(a, "*")
}

// AllowAll grants every capability.
type AllowAll struct{}

// Authorize implements Permissions.
func (AllowAll) Authorize(string) bool { return true }
