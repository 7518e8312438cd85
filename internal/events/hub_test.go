package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHubPublishDeliversToSubscribers(t *testing.T) {
	h := NewHub(10)
	replay, ch, cancel := h.Follow(0)
	defer cancel()
	if len(replay) != 0 {
		t.Fatalf("replay = %+v, want empty", replay)
	}

	h.Publish(JobQueued, JobData{RunID: "r", Job: "build", Labels: []string{"linux"}})

	select {
	case ev := <-ch:
		if ev.Type != JobQueued || ev.ID != 1 {
			t.Fatalf("event = %+v", ev)
		}
		var data JobData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if data.Job != "build" || len(data.Labels) != 1 {
			t.Fatalf("data = %+v", data)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestHubSnapshotSinceDropsOldest(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(RunStarted, nil)
	}

	all := h.SnapshotSince(0)
	if len(all) != 3 || all[0].ID != 3 || all[2].ID != 5 {
		t.Fatalf("snapshot = %+v", all)
	}
	if string(all[0].Data) != "{}" {
		t.Fatalf("nil payload = %s, want {}", all[0].Data)
	}

	later := h.SnapshotSince(4)
	if len(later) != 1 || later[0].ID != 5 {
		t.Fatalf("since 4 = %+v", later)
	}
}

func TestHubFollowResumes(t *testing.T) {
	h := NewHub(10)
	h.Publish(RunStarted, RunData{RunID: "r"})
	h.Publish(JobQueued, JobData{RunID: "r"})
	h.Publish(JobCompleted, JobData{RunID: "r"})

	replay, ch, cancel := h.Follow(1)
	defer cancel()
	if len(replay) != 2 || replay[0].ID != 2 || replay[1].ID != 3 {
		t.Fatalf("replay = %+v", replay)
	}

	h.Publish(RunCompleted, RunData{RunID: "r"})
	if ev := <-ch; ev.ID != 4 {
		t.Fatalf("live event id = %d, want 4", ev.ID)
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	h := NewHub(1)
	_, ch, cancel := h.Follow(0)
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	// Publishing after cancel must not panic on the closed channel.
	h.Publish(RunCompleted, RunData{RunID: "r"})
}

func TestHubSlowSubscriberDrops(t *testing.T) {
	h := NewHub(1)
	_, _, cancel := h.Follow(0)
	defer cancel()
	for i := 0; i < subscriberBuffer+3; i++ {
		h.Publish(JobQueued, nil)
	}
	if got := h.Dropped(); got != 3 {
		t.Fatalf("Dropped() = %d, want 3", got)
	}
}
