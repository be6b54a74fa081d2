package user

import (
	"context"
	"testing"
	"time"

	domuser "github.com/newsiq/newsengine/internal/domain/user"
)

func TestProfile_DefaultWhenMissing(t *testing.T) {
	repo := New(newMemStore(), "news:", time.Minute)
	p, err := repo.Profile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "u1" || p.Diversity != domuser.DiversityMedium || p.LongTerm != nil {
		t.Errorf("default profile = %+v", p)
	}
}

func TestProfile_RoundTrip(t *testing.T) {
	repo := New(newMemStore(), "news:", time.Minute)
	in := domuser.Profile{
		ID:           "u1",
		LongTerm:     []float32{0.1, -0.2},
		Topics:       []string{"science"},
		MutedSources: []string{"Daily Gossip, Ltd"},
		Diversity:    domuser.DiversityHigh,
		UpdatedAt:    time.Unix(1700000000, 0).UTC(),
	}
	if err := repo.SaveProfile(context.Background(), &in); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := repo.Profile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Diversity != domuser.DiversityHigh || len(got.LongTerm) != 2 || got.LongTerm[1] != -0.2 {
		t.Errorf("profile = %+v", got)
	}
	if len(got.MutedSources) != 1 || got.MutedSources[0] != "Daily Gossip, Ltd" {
		t.Errorf("muted = %v", got.MutedSources)
	}
	if !got.UpdatedAt.Equal(in.UpdatedAt) {
		t.Errorf("updated_at = %v", got.UpdatedAt)
	}
}

func TestSession_TTLAndExpiry(t *testing.T) {
	ms := newMemStore()
	repo := New(ms, "news:", 30*time.Minute)
	ctx := context.Background()

	if _, ok, err := repo.Session(ctx, "u1"); ok || err != nil {
		t.Fatalf("expected no session, ok=%v err=%v", ok, err)
	}
	if err := repo.SaveSession(ctx, "u1", domuser.Session{Vector: []float32{1, 0}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ms.ttls["news:session:u1"] != 30*time.Minute {
		t.Errorf("ttl = %v", ms.ttls["news:session:u1"])
	}
	s, ok, err := repo.Session(ctx, "u1")
	if err != nil || !ok || s.Vector[0] != 1 {
		t.Errorf("session = %+v ok=%v err=%v", s, ok, err)
	}
}

func TestEngagement(t *testing.T) {
	repo := New(newMemStore(), "news:", time.Minute)
	ctx := context.Background()

	if err := repo.RecordEngagement(ctx, "u1", "Wire", "c7"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := repo.RecordEngagement(ctx, "u1", "Herald", ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	e, err := repo.Engagement(ctx, "u1")
	if err != nil {
		t.Fatalf("engagement: %v", err)
	}
	if !e.Sources["Wire"] || !e.Sources["Herald"] || !e.Clusters["c7"] || len(e.Clusters) != 1 {
		t.Errorf("engagement = %+v", e)
	}
}
