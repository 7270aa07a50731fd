package store

import (
	"testing"
	"time"

	"doctrack/pkg/domain"
)

func newJob(id string, status domain.JobStatus) domain.Job {
	return domain.Job{
		ID:        id,
		Status:    status,
		Filename:  id + ".pdf",
		CreatedAt: time.Now().UTC(),
	}
}

func TestUpdateRejectsRegression(t *testing.T) {
	s := New()
	s.Put(newJob("doc-1", domain.StatusAIProcessing))

	if s.Update("doc-1", Patch{Status: domain.StatusProcessing}) {
		t.Fatalf("regressive update should be rejected")
	}
	job, _ := s.Get("doc-1")
	if job.Status != domain.StatusAIProcessing {
		t.Fatalf("status mutated by rejected update: %s", job.Status)
	}

	if !s.Update("doc-1", Patch{Status: domain.StatusCompleted}) {
		t.Fatalf("forward update should be applied")
	}
	if s.Update("doc-1", Patch{Status: domain.StatusFailed}) {
		t.Fatalf("terminal status must not change via Update")
	}
}

func TestUpdateUnknownJob(t *testing.T) {
	s := New()
	if s.Update("missing", Patch{Status: domain.StatusProcessing}) {
		t.Fatalf("update of unknown job should be a no-op")
	}
}

func TestObserverSequenceIsMonotonic(t *testing.T) {
	s := New()
	var seen []domain.JobStatus
	unsub := s.Subscribe(func(ev Event) {
		if ev.Job.ID == "doc-1" && ev.Kind != EventRemoved {
			seen = append(seen, ev.Job.Status)
		}
	})
	defer unsub()

	s.Put(newJob("doc-1", domain.StatusUploaded))
	s.Update("doc-1", Patch{Status: domain.StatusProcessing})
	s.Update("doc-1", Patch{Status: domain.StatusUploaded}) // late response, discarded
	s.Update("doc-1", Patch{Status: domain.StatusCompleted})

	want := []domain.JobStatus{domain.StatusUploaded, domain.StatusProcessing, domain.StatusCompleted}
	if len(seen) != len(want) {
		t.Fatalf("observed %d events, want %d: %v", len(seen), len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestReplaceIsAtomic(t *testing.T) {
	s := New()
	s.Put(newJob("other", domain.StatusCompleted))
	s.Put(newJob("temp-1-ab", domain.StatusUploading))

	type view struct {
		hasTemp, hasReal bool
		total            int
	}
	var views []view
	unsub := s.Subscribe(func(Event) {
		v := view{total: s.lenLocked()}
		_, v.hasTemp = s.jobs["temp-1-ab"]
		_, v.hasReal = s.jobs["doc-42"]
		views = append(views, v)
	})
	defer unsub()

	if !s.Replace("temp-1-ab", newJob("doc-42", domain.StatusUploaded)) {
		t.Fatalf("replace failed")
	}
	for _, v := range views {
		if v.hasTemp && v.hasReal {
			t.Fatalf("observer saw both placeholder and real id")
		}
		if v.total != 2 {
			t.Fatalf("observer saw %d jobs during reconciliation, want 2", v.total)
		}
	}

	jobs := s.List()
	if len(jobs) != 2 {
		t.Fatalf("want 2 jobs, got %d", len(jobs))
	}
	// Replace keeps the placeholder's slot: doc-42 stays most recent.
	if jobs[0].ID != "doc-42" {
		t.Fatalf("want doc-42 first, got %s", jobs[0].ID)
	}
}

func TestReplaceUnknownPlaceholder(t *testing.T) {
	s := New()
	if s.Replace("temp-missing", newJob("doc-1", domain.StatusUploaded)) {
		t.Fatalf("replace of unknown placeholder should fail")
	}
	if s.Len() != 0 {
		t.Fatalf("failed replace must not insert")
	}
}

func TestListMostRecentFirst(t *testing.T) {
	s := New()
	s.Put(newJob("a", domain.StatusUploaded))
	s.Put(newJob("b", domain.StatusUploaded))
	s.Put(newJob("c", domain.StatusUploaded))

	jobs := s.List()
	if jobs[0].ID != "c" || jobs[1].ID != "b" || jobs[2].ID != "a" {
		t.Fatalf("unexpected order: %s %s %s", jobs[0].ID, jobs[1].ID, jobs[2].ID)
	}
}

func TestRemoveNotifies(t *testing.T) {
	s := New()
	s.Put(newJob("doc-1", domain.StatusProcessing))

	var removed []string
	unsub := s.Subscribe(func(ev Event) {
		if ev.Kind == EventRemoved {
			removed = append(removed, ev.Job.ID)
		}
	})
	defer unsub()

	if !s.Remove("doc-1") {
		t.Fatalf("remove failed")
	}
	if s.Remove("doc-1") {
		t.Fatalf("second remove should report missing")
	}
	if len(removed) != 1 || removed[0] != "doc-1" {
		t.Fatalf("unexpected removal events: %v", removed)
	}
	if _, ok := s.Get("doc-1"); ok {
		t.Fatalf("job still present after remove")
	}
}

// lenLocked is a test helper: observers run under the store lock, so they
// may read internal state directly but must not take the lock again.
func (s *Store) lenLocked() int { return len(s.jobs) }
