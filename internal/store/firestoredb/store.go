// Package firestoredb implements the store capabilities on Cloud Firestore.
package firestoredb

import (
	"sort"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/cuongbtq/questionnaire-be/internal/store"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Store is a store.Backend backed by a Firestore database.
type Store struct {
	client *firestore.Client
}

var _ store.Backend = (*Store)(nil)

func New(client *firestore.Client) *Store {
	return &Store{client: client}
}

func (s *Store) submissions() *firestore.CollectionRef {
	return s.client.Collection(store.CollectionSubmissions)
}

func (s *Store) templates() *firestore.CollectionRef {
	return s.client.Collection(store.CollectionTemplates)
}

func (s *Store) jobs() *firestore.CollectionRef {
	return s.client.Collection(store.CollectionJobs)
}

func (s *Store) windows() *firestore.CollectionRef {
	return s.client.Collection(store.CollectionRateLimits)
}

func (s *Store) alerts() *firestore.CollectionRef {
	return s.client.Collection(store.CollectionSecurityAlerts)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func refsFor(coll *firestore.CollectionRef, ids []string) []*firestore.DocumentRef {
	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		refs[i] = coll.Doc(id)
	}
	return refs
}

// windowDocID maps a limiter key to a legal document ID.
func windowDocID(key string) string {
	return strings.ReplaceAll(key, "/", "_")
}

func sortedIDs(snaps []*firestore.DocumentSnapshot) []string {
	ids := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		ids = append(ids, snap.Ref.ID)
	}
	sort.Strings(ids)
	return ids
}
