package floworc

import "github.com/floworc/floworc/id"

// ID is the primary identifier type for all floworc entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
