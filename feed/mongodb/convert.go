package mongodb

import (
	"encoding/json"
	"time"

	"github.com/autom8ter/realtime"
	"github.com/autom8ter/realtime/errors"
	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type namespace struct {
	DB   string `bson:"db"`
	Coll string `bson:"coll"`
}

func (n *namespace) toNamespace() *realtime.Namespace {
	if n == nil {
		return nil
	}
	return &realtime.Namespace{Database: n.DB, Collection: n.Coll}
}

// changeDoc is a change stream event as the server sends it
type changeDoc struct {
	OperationType            string              `bson:"operationType"`
	NS                       namespace           `bson:"ns"`
	To                       *namespace          `bson:"to"`
	DocumentKey              bson.Raw            `bson:"documentKey"`
	FullDocument             *bson.Raw           `bson:"fullDocument"`
	FullDocumentBeforeChange *bson.Raw           `bson:"fullDocumentBeforeChange"`
	ClusterTime              primitive.Timestamp `bson:"clusterTime"`
	UpdateDescription        *struct {
		UpdatedFields bson.Raw `bson:"updatedFields"`
		RemovedFields []string `bson:"removedFields"`
	} `bson:"updateDescription"`
}

func (c changeDoc) toChangeEvent() (realtime.ChangeEvent, error) {
	event := realtime.ChangeEvent{
		OperationType: realtime.OperationType(c.OperationType),
		Namespace:     realtime.Namespace{Database: c.NS.DB, Collection: c.NS.Coll},
		To:            c.To.toNamespace(),
	}
	if c.ClusterTime.T > 0 {
		event.ClusterTime = time.Unix(int64(c.ClusterTime.T), 0).UTC()
	}
	if len(c.DocumentKey) > 0 {
		id, err := documentID(c.DocumentKey)
		if err != nil {
			return event, err
		}
		event.DocumentKey = &realtime.DocumentKey{ID: id}
	}
	var err error
	if c.FullDocument != nil {
		if event.FullDocument, err = toDocument(*c.FullDocument); err != nil {
			return event, err
		}
	}
	if c.FullDocumentBeforeChange != nil {
		if event.FullDocumentBeforeChange, err = toDocument(*c.FullDocumentBeforeChange); err != nil {
			return event, err
		}
	}
	if c.UpdateDescription != nil {
		desc := &realtime.UpdateDescription{RemovedFields: c.UpdateDescription.RemovedFields}
		if len(c.UpdateDescription.UpdatedFields) > 0 {
			bits, err := toJSON(c.UpdateDescription.UpdatedFields)
			if err != nil {
				return event, err
			}
			if err := json.Unmarshal(bits, &desc.UpdatedFields); err != nil {
				return event, errors.Wrap(err, errors.Validation, "mongodb: malformed updated fields")
			}
		}
		event.UpdateDescription = desc
	}
	return event, nil
}

// documentID returns the _id of a document key as a string. ObjectIDs are hex encoded.
func documentID(key bson.Raw) (string, error) {
	value, err := key.LookupErr("_id")
	if err != nil {
		return "", errors.Wrap(err, errors.Validation, "mongodb: document key without an _id")
	}
	if oid, ok := value.ObjectIDOK(); ok {
		return oid.Hex(), nil
	}
	if s, ok := value.StringValueOK(); ok {
		return s, nil
	}
	var id any
	if err := value.Unmarshal(&id); err != nil {
		return "", errors.Wrap(err, errors.Validation, "mongodb: undecodable document key")
	}
	return cast.ToStringE(id)
}

// toDocument converts a bson document to a json document using relaxed extended json
func toDocument(raw bson.Raw) (*realtime.Document, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	bits, err := toJSON(raw)
	if err != nil {
		return nil, err
	}
	return realtime.NewDocumentFromBytes(bits)
}

func toJSON(raw bson.Raw) ([]byte, error) {
	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, errors.Validation, "mongodb: malformed bson document")
	}
	bits, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "mongodb: failed to encode document")
	}
	return bits, nil
}
