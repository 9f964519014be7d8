package realtime

import (
	"time"
)

// OperationType is the type of change a ChangeEvent describes
type OperationType string

const (
	Insert       OperationType = "insert"
	Update       OperationType = "update"
	Replace      OperationType = "replace"
	Delete       OperationType = "delete"
	Invalidate   OperationType = "invalidate"
	Drop         OperationType = "drop"
	DropDatabase OperationType = "dropDatabase"
	Rename       OperationType = "rename"
)

// Namespace identifies the database and collection an event happened in
type Namespace struct {
	Database   string `json:"db"`
	Collection string `json:"coll,omitempty"`
}

// DocumentKey identifies the document a change applies to
type DocumentKey struct {
	ID string `json:"_id"`
}

// UpdateDescription describes the fields changed by an update
type UpdateDescription struct {
	UpdatedFields map[string]any `json:"updatedFields,omitempty"`
	RemovedFields []string       `json:"removedFields,omitempty"`
}

// ChangeEvent is a single change observed on the change feed.
// DocumentKey is nil for collection level operations (drop, rename, invalidate, dropDatabase).
type ChangeEvent struct {
	OperationType            OperationType      `json:"operationType"`
	Namespace                Namespace          `json:"ns"`
	DocumentKey              *DocumentKey       `json:"documentKey,omitempty"`
	FullDocument             *Document          `json:"fullDocument,omitempty"`
	FullDocumentBeforeChange *Document          `json:"fullDocumentBeforeChange,omitempty"`
	UpdateDescription        *UpdateDescription `json:"updateDescription,omitempty"`
	// To is the target namespace of a rename
	To          *Namespace `json:"to,omitempty"`
	ClusterTime time.Time  `json:"clusterTime"`
}

// Collection returns the name of the collection the event happened in
func (c ChangeEvent) Collection() string {
	return c.Namespace.Collection
}

// DocumentID returns the id of the changed document, or false for collection level operations
func (c ChangeEvent) DocumentID() (string, bool) {
	if c.DocumentKey == nil {
		return "", false
	}
	return c.DocumentKey.ID, true
}

// mutatesDocuments returns true if the operation changes the contents of a collection's cache
func (o OperationType) mutatesDocuments() bool {
	switch o {
	case Insert, Update, Replace, Delete:
		return true
	default:
		return false
	}
}
