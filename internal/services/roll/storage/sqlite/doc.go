// Package sqlite provides a SQLite-backed store for roll user state.
//
// Each user is one row in users plus one row per alias in defines; the
// cached character stats are kept as a JSON object on the user row.
package sqlite
