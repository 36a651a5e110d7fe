// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import "time"

// RecommendedMaxAge is the default age past which AdviseRotation
// recommends generating a replacement identity. The core does not
// enforce rotation — DeviceIdentity is immutable once created (spec
// §3) — this is advisory only, surfaced for a host application to act
// on (e.g. prompt the user, or mint a successor identity and announce
// it through the application's own trust-transfer flow).
const RecommendedMaxAge = 180 * 24 * time.Hour

// RotationAdvice is the result of checking an identity's age against
// RecommendedMaxAge.
type RotationAdvice struct {
	// ShouldRotate is true once the identity is older than the
	// threshold used to produce this advice.
	ShouldRotate bool

	// Age is how long ago the identity was created.
	Age time.Duration

	// Threshold is the max-age value this advice was computed against.
	Threshold time.Duration
}

// AdviseRotation reports whether id is old enough that rotating to a
// fresh identity is advisable, using RecommendedMaxAge as the
// threshold. A zero CreatedAt (identity persisted by a version of this
// package predating CreatedAt tracking) never advises rotation — there
// is no age to compare.
func (id *Identity) AdviseRotation(now time.Time) RotationAdvice {
	return id.AdviseRotationWithThreshold(now, RecommendedMaxAge)
}

// AdviseRotationWithThreshold is [Identity.AdviseRotation] with an
// explicit threshold, for callers with a different rotation policy.
func (id *Identity) AdviseRotationWithThreshold(now time.Time, threshold time.Duration) RotationAdvice {
	if id.CreatedAt.IsZero() {
		return RotationAdvice{Threshold: threshold}
	}
	age := now.Sub(id.CreatedAt)
	return RotationAdvice{
		ShouldRotate: age >= threshold,
		Age:          age,
		Threshold:    threshold,
	}
}
