package store

import (
	"context"
	"testing"
	"time"

	"github.com/hurttlocker/reverie/internal/cluster"
	"github.com/hurttlocker/reverie/internal/corpus"
	"github.com/hurttlocker/reverie/internal/taxonomy"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSnapshot(t *testing.T, s *Store) {
	t.Helper()
	birth := time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)
	dreams := []*corpus.Dream{
		{ID: "1", RawTitle: "להתחתן", Author: "dana", BirthDate: &birth, NormalizedPhrase: "to get married", ClusterID: 1},
		{ID: "2", RawTitle: "get married", Author: "yoni", NormalizedPhrase: "to get married", ClusterID: 1},
		{ID: "3", RawTitle: "become a doctor", NormalizedPhrase: "to become a doctor", ClusterID: 2},
	}
	clusters := []*cluster.Cluster{
		{
			ID: 1, Representative: "to get married", MemberIDs: []string{"1", "2"},
			Taxonomy: taxonomy.Path{Level1: "Relationships", Level2: "Romance", Level3: "Marriage"}, Classified: true,
		},
		{
			ID: 2, Representative: "to become a doctor", MemberIDs: []string{"3"},
		},
	}
	if err := s.ReplaceSnapshot(context.Background(), dreams, clusters); err != nil {
		t.Fatalf("ReplaceSnapshot failed: %v", err)
	}
}

func TestReplaceSnapshotAndStats(t *testing.T) {
	s := openTestStore(t)
	seedSnapshot(t, s)

	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.DreamCount != 3 || st.ClusterCount != 2 || st.Classified != 1 {
		t.Errorf("Stats = %+v, want 3 dreams, 2 clusters, 1 classified", st)
	}
}

func TestReplaceSnapshotIsFullReplace(t *testing.T) {
	s := openTestStore(t)
	seedSnapshot(t, s)

	dreams := []*corpus.Dream{
		{ID: "9", RawTitle: "to fly", NormalizedPhrase: "to fly", ClusterID: 7},
	}
	clusters := []*cluster.Cluster{
		{ID: 7, Representative: "to fly", MemberIDs: []string{"9"}},
	}
	if err := s.ReplaceSnapshot(context.Background(), dreams, clusters); err != nil {
		t.Fatalf("second ReplaceSnapshot failed: %v", err)
	}

	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.DreamCount != 1 || st.ClusterCount != 1 {
		t.Errorf("Stats after replace = %+v, want 1 dream, 1 cluster", st)
	}
}

func TestListClustersOrdersBySize(t *testing.T) {
	s := openTestStore(t)
	seedSnapshot(t, s)

	rows, err := s.ListClusters(context.Background(), ListOpts{})
	if err != nil {
		t.Fatalf("ListClusters failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d clusters, want 2", len(rows))
	}
	if rows[0].ID != 1 || rows[0].Size != 2 {
		t.Errorf("first row = %+v, want cluster 1 with size 2", rows[0])
	}
	if !rows[0].Classified || rows[0].Level1 != "Relationships" {
		t.Errorf("taxonomy not persisted: %+v", rows[0])
	}
}

func TestListClustersMinSize(t *testing.T) {
	s := openTestStore(t)
	seedSnapshot(t, s)

	rows, err := s.ListClusters(context.Background(), ListOpts{MinSize: 2})
	if err != nil {
		t.Fatalf("ListClusters failed: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != 1 {
		t.Errorf("rows = %+v, want only cluster 1", rows)
	}
}

func TestGetCluster(t *testing.T) {
	s := openTestStore(t)
	seedSnapshot(t, s)

	c, members, err := s.GetCluster(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetCluster failed: %v", err)
	}
	if c.Representative != "to get married" {
		t.Errorf("representative = %q", c.Representative)
	}
	if len(members) != 2 {
		t.Fatalf("got %d members, want 2", len(members))
	}
	if members[0].RawTitle != "להתחתן" {
		t.Errorf("raw title lost in round trip: %q", members[0].RawTitle)
	}
	if members[0].BirthDate == nil || members[0].BirthDate.Year() != 1990 {
		t.Errorf("birth date = %v, want 1990-06-15", members[0].BirthDate)
	}
	if members[1].BirthDate != nil {
		t.Error("missing birth date should stay nil")
	}
}

func TestGetClusterMissing(t *testing.T) {
	s := openTestStore(t)
	seedSnapshot(t, s)

	if _, _, err := s.GetCluster(context.Background(), 999); err == nil {
		t.Error("expected error for missing cluster")
	}
}
