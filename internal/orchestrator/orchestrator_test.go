package orchestrator

import "testing"

func TestHighlightsIDIsStable(t *testing.T) {
	a := highlightsID("user1", "video1")
	b := highlightsID("user1", "video1")
	if a != b {
		t.Error("highlightsID must be deterministic")
	}
	if highlightsID("user1", "video2") == a {
		t.Error("highlightsID must differ across videos")
	}
}

func TestCinematicIDIsStable(t *testing.T) {
	a := cinematicID("user1", "video1", "scene1")
	b := cinematicID("user1", "video1", "scene1")
	if a != b {
		t.Error("cinematicID must be deterministic")
	}
	if cinematicID("user1", "video1", "scene2") == a {
		t.Error("cinematicID must differ across scenes")
	}
}
