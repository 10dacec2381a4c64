// Package scheduler fires recurring jobs (cron or fixed interval) by
// submitting a fresh task into the engine on every trigger.
//
// It owns no execution: retries, timeouts and limits are the engine's.
// The scheduler is responsible only for:
//   - registering jobs
//   - computing next trigger times
//   - applying the overlap policy before submitting
package scheduler
