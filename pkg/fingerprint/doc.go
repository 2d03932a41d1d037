// Package fingerprint turns raw client-reported device signals into a stable identity.
//
// # Overview
//
// A browser reports a loose JSON object (user agent, screen geometry, timezone,
// languages, platform, hardware concurrency and so on). This package provides:
//   - Canonicalize / Parse: validate the payload into a Fingerprint, rejecting wrong types
//   - Hash: SHA-256 over a key-sorted canonical serialization, used for exact matches
//   - Scorer: weighted partial similarity with an anchor guard and a hard pre-filter
//   - Label: a readable device label derived from the user agent
//
// # Usage
//
//	fp, err := fingerprint.Parse(body)
//	if err != nil {
//		var verr *fingerprint.ValidationError
//		if errors.As(err, &verr) {
//			// verr.Fields names every offending attribute
//		}
//		return err
//	}
//
//	hash := fingerprint.Hash(fp)
//
//	scorer := fingerprint.NewScorer()
//	if idx, score, ok := scorer.BestMatch(fp, known); ok {
//		slog.Info("same device", "index", idx, "score", score)
//	}
//
// # Similarity
//
// Platform, screen and user agent carry the high weights, timezone and language
// the medium ones, and hardware concurrency, cookie support, vendor, touch points
// and do-not-track the low ones. Weights must sum to 1 so scores stay in [0, 1].
// Platform and screen are anchors: without them the score is 0, so two unrelated
// devices cannot match on low-weight attributes alone.
package fingerprint
