package enums

import "slices"

// ServiceMode controls whether customers can only browse or also order.
type ServiceMode string

const (
	ServiceModeMenuOnly  ServiceMode = "menu-only"
	ServiceModeMenuOrder ServiceMode = "menu+order"
)

var serviceModes = []ServiceMode{ServiceModeMenuOnly, ServiceModeMenuOrder}

func (m ServiceMode) IsValid() bool { return slices.Contains(serviceModes, m) }

// AllowsOrdering reports whether customers may place orders.
func (m ServiceMode) AllowsOrdering() bool {
	return m == ServiceModeMenuOrder
}

func ParseServiceMode(value string) (ServiceMode, error) {
	return parse("service mode", value, serviceModes)
}
