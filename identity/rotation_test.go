// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"testing"
	"time"
)

func TestAdviseRotationFreshIdentity(t *testing.T) {
	id := &Identity{CreatedAt: testTime}

	advice := id.AdviseRotation(testTime.Add(time.Hour))
	if advice.ShouldRotate {
		t.Error("expected no rotation advice for a one-hour-old identity")
	}
	if advice.Age != time.Hour {
		t.Errorf("Age = %v, want %v", advice.Age, time.Hour)
	}
}

func TestAdviseRotationStaleIdentity(t *testing.T) {
	id := &Identity{CreatedAt: testTime}

	advice := id.AdviseRotation(testTime.Add(RecommendedMaxAge + time.Hour))
	if !advice.ShouldRotate {
		t.Error("expected rotation advice once past the recommended max age")
	}
}

func TestAdviseRotationZeroCreatedAt(t *testing.T) {
	id := &Identity{}

	advice := id.AdviseRotation(testTime.Add(10 * RecommendedMaxAge))
	if advice.ShouldRotate {
		t.Error("expected no rotation advice when CreatedAt is unset")
	}
}

func TestAdviseRotationWithThreshold(t *testing.T) {
	id := &Identity{CreatedAt: testTime}

	advice := id.AdviseRotationWithThreshold(testTime.Add(2*time.Hour), time.Hour)
	if !advice.ShouldRotate {
		t.Error("expected rotation advice with a one-hour threshold after two hours")
	}
	if advice.Threshold != time.Hour {
		t.Errorf("Threshold = %v, want %v", advice.Threshold, time.Hour)
	}
}
