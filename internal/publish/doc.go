// Package publish pushes a chain's freshly indexed output somewhere durable.
// The git publisher commits and pushes the storage root; the Pub/Sub
// publisher announces the run to downstream consumers. Multi fans out to
// several publishers and reports every failure.
package publish
