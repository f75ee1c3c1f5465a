// Package pool provides capacity-bounded execution slot allocation per
// resource class. Each pool is owned by a single dispatcher goroutine that
// guards the in-flight counter; callers park on a grant channel rather than
// polling. Admission is strict priority order, FIFO within a priority, and
// the light and accelerated classes never share capacity.
package pool
