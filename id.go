package concierge

import "github.com/xraph/concierge/id"

// ID is the primary identifier type for all concierge entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
