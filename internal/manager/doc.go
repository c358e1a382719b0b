// Package manager runs the alert cycle over a set of monitors: load the
// persisted baselines, fetch and evaluate each monitor in turn, persist the
// updated baselines and hand the alerts to email, webhooks and metrics.
//
// A fetch failure of one monitor is logged and does not stop the others.
package manager
