package session

import "strings"

const (
	DefaultCustomerName = "Guest"
	DefaultTableNo      = "-"
)

// ClientContext is what a customer request knows about itself. It is passed
// explicitly into the order aggregator.
type ClientContext struct {
	SessionID    ID
	TableNo      string
	CustomerName string
}

// Normalized trims the fields and applies the guest and table defaults.
func (c ClientContext) Normalized() ClientContext {
	c.TableNo = strings.TrimSpace(c.TableNo)
	if c.TableNo == "" {
		c.TableNo = DefaultTableNo
	}
	c.CustomerName = strings.TrimSpace(c.CustomerName)
	if c.CustomerName == "" {
		c.CustomerName = DefaultCustomerName
	}
	return c
}

func (c ClientContext) Valid() bool {
	return validID.MatchString(string(c.SessionID))
}
