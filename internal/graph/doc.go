// Package graph is the API transport used by the audit crawl. It issues
// authenticated GET requests against the Microsoft Graph REST endpoint,
// normalizes collection and single-object responses into one shape, and
// reports failures as typed errors so callers never inspect message text.
package graph
