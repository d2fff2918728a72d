// Package resilience provides the fault-tolerance building blocks of the
// HTTP dispatcher: the window-bounded exponential retry policy and a
// circuit breaker for failing fast against an unhealthy origin.
package resilience
