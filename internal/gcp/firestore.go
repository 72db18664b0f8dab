package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
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

// FindAll returns every document in collection whose field equals value.
func FindAll(ctx context.Context, client *firestore.Client, collection, field string, value interface{}) ([]*firestore.DocumentSnapshot, error) {
	iter := client.Collection(collection).Where(field, "==", value).Documents(ctx)
	defer iter.Stop()

	var docs []*firestore.DocumentSnapshot
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			return docs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query %s by %s: %w", collection, field, err)
		}
		docs = append(docs, doc)
	}
}
