// Package runlog records pipeline runs in a SQLite database.
//
// The schema is managed with golang-migrate from migrations embedded in the
// binary, so a fresh file is usable immediately after Open. The store can
// also mount a tailsql browser on a debug mux for ad-hoc queries.
package runlog
