// Package notifier delivers rendered posts to chat targets.
//
// Delivery is paced: one limiter per target spaces consecutive posts to the
// same channel, and a global limiter caps the overall send rate across every
// channel. Each post is retried a few times with a short linear backoff; the
// first post that still fails aborts the rest of the batch so the caller can
// retry the whole batch later.
//
// The service keeps a small in-memory history of recent deliveries for
// operator visibility.
package notifier
