package domain

import "time"

// Customer is the stable identity for a messaging end-user. The pair
// (TenantID, Phone) is unique; Phone is stored without the channel prefix.
type Customer struct {
	ID           string
	TenantID     string
	DisplayAlias string
	Phone        string
	RegisteredAt time.Time
}
