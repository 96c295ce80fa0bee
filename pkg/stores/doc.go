// Package stores keeps the journal of ralsh apply runs in SQLite: one row
// per run, the attribute changes providers reported, events such as policy
// denials and provider errors, and the last state applied to each resource
// for drift detection.
package stores
