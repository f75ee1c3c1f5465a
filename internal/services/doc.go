// Package services holds cross-cutting helpers shared by the orchestration
// components: sentinel error markers with a wrapping helper for failure
// classification, and typed context keys used to thread execution identity
// through structured logging.
package services
