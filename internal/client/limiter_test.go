package client

import (
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestSendLimiter_BurstThenDeny(t *testing.T) {
	sl := newSendLimiter(rate.Limit(0.001), 2, time.Minute)
	defer sl.Stop()

	if !sl.allow("TM") {
		t.Error("allow() #1 = false, want true")
	}
	if !sl.allow("TM") {
		t.Error("allow() #2 = false, want true")
	}
	if sl.allow("TM") {
		t.Error("allow() #3 = true after burst exhausted, want false")
	}
}

func TestSendLimiter_KeysAreIndependent(t *testing.T) {
	sl := newSendLimiter(rate.Limit(0.001), 1, time.Minute)
	defer sl.Stop()

	if !sl.allow("TM") {
		t.Fatal("allow(TM) = false, want true")
	}
	if sl.allow("TM") {
		t.Error("allow(TM) = true after burst, want false")
	}
	// Other commands keep their own bucket.
	if !sl.allow("TM_E") {
		t.Error("allow(TM_E) = false, want true")
	}
}

func TestActionTracker_Lifecycle(t *testing.T) {
	var tr actionTracker

	tag := tr.begin()
	if tag != "u_action_1" {
		t.Errorf("begin() = %v, want u_action_1", tag)
	}
	if !tr.busy() {
		t.Error("busy() = false after begin")
	}

	if tr.complete("u_action_wrong") {
		t.Error("complete() accepted a mismatched tag")
	}
	if !tr.complete(tag) {
		t.Error("complete() rejected the active tag")
	}
	if tr.busy() {
		t.Error("busy() = true after complete")
	}

	// Sequence keeps growing so tags never repeat within a session.
	next := tr.begin()
	if next != "u_action_2" {
		t.Errorf("begin() = %v, want u_action_2", next)
	}

	// A new action supersedes an unacked one; only the latest tag completes.
	latest := tr.begin()
	if latest != "u_action_3" {
		t.Errorf("begin() = %v, want u_action_3", latest)
	}
	if tr.complete(next) {
		t.Error("complete() accepted a superseded tag")
	}
	if !tr.complete(latest) {
		t.Error("complete() rejected the superseding tag")
	}
}
