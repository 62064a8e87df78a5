// Package legacymongo reads historical order documents from MongoDB without assuming a schema.
package legacymongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNoID is returned for documents without a usable _id.
var ErrNoID = errors.New("legacymongo: document has no _id")

// Connect opens a client and returns the named database.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(20)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}
	return client.Database(database), nil
}

// Document is one legacy order converted to relaxed extended JSON.
type Document struct {
	ID        string
	TenantID  string
	CreatedAt time.Time
	JSON      json.RawMessage
}

// Reader streams order documents from one collection.
type Reader struct {
	Collection *mongo.Collection
	// TenantField and CreatedField name the tenant and creation-time fields; they default to
	// tenantId and createdAt.
	TenantField  string
	CreatedField string
	BatchSize    int32
}

// Stream calls fn for every document of the tenant (all tenants when tenantID is empty) in _id
// order. It stops at the first error returned by fn and reports how many documents were read.
func (r *Reader) Stream(ctx context.Context, tenantID string, fn func(Document) error) (int, error) {
	if r == nil || r.Collection == nil {
		return 0, errors.New("legacymongo: collection not configured")
	}
	filter := bson.M{}
	if tenantID != "" {
		filter[r.tenantField()] = tenantID
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if r.BatchSize > 0 {
		opts.SetBatchSize(r.BatchSize)
	}
	cur, err := r.Collection.Find(ctx, filter, opts)
	if err != nil {
		return 0, fmt.Errorf("find legacy orders: %w", err)
	}
	defer cur.Close(ctx)

	var n int
	for cur.Next(ctx) {
		doc, err := r.Convert(cur.Current)
		if err != nil {
			return n, err
		}
		if doc.TenantID == "" {
			doc.TenantID = tenantID
		}
		n++
		if err := fn(doc); err != nil {
			return n, err
		}
	}
	return n, cur.Err()
}

// Convert turns a raw BSON document into a Document. Numeric wrappers such as Decimal128 and
// non-finite doubles keep their extended JSON form.
func (r *Reader) Convert(raw bson.Raw) (Document, error) {
	id, err := idString(raw.Lookup("_id"))
	if err != nil {
		return Document{}, err
	}
	data, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return Document{}, fmt.Errorf("legacy order %s: %w", id, err)
	}
	doc := Document{ID: id, JSON: data}
	if v, ok := raw.Lookup(r.tenantField()).StringValueOK(); ok {
		doc.TenantID = v
	}
	doc.CreatedAt = createdAt(raw.Lookup(r.createdField()), raw.Lookup("_id"))
	return doc, nil
}

func idString(v bson.RawValue) (string, error) {
	switch v.Type {
	case bsontype.ObjectID:
		return v.ObjectID().Hex(), nil
	case bsontype.String:
		if s := v.StringValue(); s != "" {
			return s, nil
		}
	case bsontype.Int32, bsontype.Int64:
		return fmt.Sprint(v.AsInt64()), nil
	}
	return "", ErrNoID
}

// createdAt prefers the stored creation field and falls back to the ObjectID timestamp.
func createdAt(field, id bson.RawValue) time.Time {
	switch field.Type {
	case bsontype.DateTime:
		return field.Time().UTC()
	case bsontype.String:
		if t, err := time.Parse(time.RFC3339, field.StringValue()); err == nil {
			return t.UTC()
		}
	case bsontype.Timestamp:
		sec, _ := field.Timestamp()
		return time.Unix(int64(sec), 0).UTC()
	}
	if oid, ok := id.ObjectIDOK(); ok && oid != primitive.NilObjectID {
		return oid.Timestamp().UTC()
	}
	return time.Time{}
}

func (r *Reader) tenantField() string {
	if r.TenantField != "" {
		return r.TenantField
	}
	return "tenantId"
}

func (r *Reader) createdField() string {
	if r.CreatedField != "" {
		return r.CreatedField
	}
	return "createdAt"
}
