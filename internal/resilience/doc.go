// Package resilience provides reliability and fault tolerance patterns used
// around the scheduler's outbound HTTP probes.
//
// The package supports:
//   - Circuit breakers per origin, tripped on sustained HEAD/GET failures
//   - Retry logic with exponential backoff and jitter
//
// Usage Example:
//
//	cb := circuitbreaker.New(circuitbreaker.SchedulerOriginConfig(origin))
//	result, err := cb.Execute(func() (interface{}, error) {
//	    return performProbe()
//	})
//
//	retryConfig := retry.SchedulerProbeConfig()
//	err := retry.WithBackoff(ctx, retryConfig, func() error {
//	    return performOperation()
//	})
package resilience
