package abuse

import (
	"testing"
	"time"

	"yeoyu-guard/internal/config"
)

func testConfig() config.AbuseConfig {
	cfg := config.DefaultConfig().Abuse
	return cfg
}

func TestWindowPruningEdge(t *testing.T) {
	detector := New(testConfig())
	base := time.Now()

	// threshold 2, window 300s: t=0 and t=301 must not trigger
	if d := detector.Observe("a1", CategoryChannelDelete, base); d.Quarantine {
		t.Fatalf("first event should not trigger")
	}
	if d := detector.Observe("a1", CategoryChannelDelete, base.Add(301*time.Second)); d.Quarantine {
		t.Fatalf("event outside window must not count")
	}

	// t=0 and t=299 must trigger at the second event
	if d := detector.Observe("a2", CategoryChannelDelete, base); d.Quarantine {
		t.Fatalf("first event should not trigger")
	}
	d := detector.Observe("a2", CategoryChannelDelete, base.Add(299*time.Second))
	if !d.Quarantine {
		t.Fatalf("expected quarantine decision")
	}
	if d.Category != CategoryChannelDelete || d.Count != 2 {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestWindowClearsAfterTrigger(t *testing.T) {
	detector := New(testConfig())
	base := time.Now()

	detector.Observe("a1", CategoryChannelDelete, base)
	if d := detector.Observe("a1", CategoryChannelDelete, base.Add(time.Minute)); !d.Quarantine {
		t.Fatalf("expected trigger on second deletion")
	}

	// third deletion right after the trigger starts a fresh burst
	if d := detector.Observe("a1", CategoryChannelDelete, base.Add(2*time.Minute)); d.Quarantine {
		t.Fatalf("cleared window must not re-trigger immediately")
	}
	if d := detector.Observe("a1", CategoryChannelDelete, base.Add(3*time.Minute)); !d.Quarantine {
		t.Fatalf("two fresh events should trigger again")
	}
}

func TestCategoriesTrackedIndependently(t *testing.T) {
	detector := New(testConfig())
	base := time.Now()

	detector.Observe("a1", CategoryChannelCreate, base)
	if d := detector.Observe("a1", CategoryChannelDelete, base.Add(time.Second)); d.Quarantine {
		t.Fatalf("different categories must not share a window")
	}
	if d := detector.Observe("a1", CategoryChannelCreate, base.Add(2*time.Second)); !d.Quarantine {
		t.Fatalf("same category should trigger")
	}
}

func TestSpamThreshold(t *testing.T) {
	detector := New(testConfig())
	base := time.Now()

	for i := 0; i < 2; i++ {
		if d := detector.Observe("u1", CategorySpam, base.Add(time.Duration(i)*time.Second)); d.Quarantine {
			t.Fatalf("spam should not trigger before third event")
		}
	}
	if d := detector.Observe("u1", CategorySpam, base.Add(10*time.Second)); !d.Quarantine {
		t.Fatalf("third spam event inside 50s should trigger")
	}
}

func TestQualifiesAsSpam(t *testing.T) {
	detector := New(testConfig())

	long := make([]rune, 0, 120)
	for i := 0; i < 120; i++ {
		long = append(long, '가')
	}
	if !detector.QualifiesAsSpam("u1", string(long)) {
		t.Fatalf("over-length message should qualify")
	}

	if detector.QualifiesAsSpam("u2", "안녕하세요") {
		t.Fatalf("first short message should not qualify")
	}
	if !detector.QualifiesAsSpam("u2", "안녕하세요") {
		t.Fatalf("repeated identical message should qualify")
	}
	if detector.QualifiesAsSpam("u2", "다른 내용") {
		t.Fatalf("changed message should not qualify")
	}
}
