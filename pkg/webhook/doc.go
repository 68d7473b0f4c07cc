// Package webhook receives signed Outline webhooks and routes signin
// events to the reconciler. The caller only ever sees 200 "OK" or
// 400 "Invalid request"; error detail stays in the logs.
package webhook
