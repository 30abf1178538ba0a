package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/documentextraction/internal/models"
	"google.golang.org/api/iterator"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// FindByField returns the ID of the first document in collection whose field equals value.
// The boolean is false when no document matches.
func FindByField(ctx context.Context, client *firestore.Client, collection, field string, value any) (string, bool, error) {
	iter := client.Collection(collection).Where(field, "==", value).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query %s by %s: %w", collection, field, err)
	}
	return doc.Ref.ID, true, nil
}

// ExtractionRecords stores extraction status documents in one collection.
type ExtractionRecords struct {
	client     *firestore.Client
	collection string
}

// NewExtractionRecords binds a Firestore client to a collection.
func NewExtractionRecords(client *firestore.Client, collection string) *ExtractionRecords {
	return &ExtractionRecords{client: client, collection: collection}
}

// FindByHash returns the ID of an existing record for fileHash.
func (r *ExtractionRecords) FindByHash(ctx context.Context, fileHash string) (string, bool, error) {
	return FindByField(ctx, r.client, r.collection, "fileHash", fileHash)
}

// Create adds a new record and returns its generated ID.
func (r *ExtractionRecords) Create(ctx context.Context, record models.Extraction) (string, error) {
	docRef, _, err := r.client.Collection(r.collection).Add(ctx, record)
	if err != nil {
		return "", fmt.Errorf("failed to create extraction record: %w", err)
	}
	return docRef.ID, nil
}

// Update applies field updates to the record with the given ID.
func (r *ExtractionRecords) Update(ctx context.Context, id string, updates []firestore.Update) error {
	if _, err := r.client.Collection(r.collection).Doc(id).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update extraction record %s: %w", id, err)
	}
	return nil
}
