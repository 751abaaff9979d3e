// Package notifier delivers short operator notices to the admin chat.
//
// Post and NotifyAdmin only queue. One worker sends notices in order through
// a rate limiter and retries with backoff. A repeated key inside the dedup
// window is dropped. The bounded history backs /status.
package notifier
