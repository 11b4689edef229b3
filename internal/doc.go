// Package currentcost implements a live electricity usage daemon for
// CurrentCost meters.
//
// # Architecture
//
// The daemon is structured into several key packages:
//   - transport: serial, MQTT and NATS clients delivering raw meter payloads
//   - parser: CurrentCost XML and plain watt payload parsing
//   - acquisition: one goroutine per live connection, feeding the session
//   - gridfeed: national demand, frequency and generation mix pollers
//   - buffer: append-only reading and grid sample buffers
//   - generation: the current energy mix and the stacked generation graph
//   - redraw: the coordinator that owns every graph mutation
//   - span: usage and cost over a selected time span
//   - livedata: the session tying the above together
//   - httpapi, grpc: the control API and health service
//   - settings, scheduler, config, metrics: supporting infrastructure
//
// Key Features
//
//   - Live Graph:
//     Readings arrive from any transport and are redrawn together with
//     national demand or frequency on a shared time axis.
//
//   - Span Queries:
//     Selecting a span reports the energy used and, when a unit cost is
//     configured, what it cost.
//
//   - Generation Mix:
//     Each reading is split by the national generation mix at the time it
//     was taken.
//
// Example Usage
//
//	curl -X POST localhost:8080/api/v1/connect -d '{"transport":"serial"}'
//	curl -X POST localhost:8080/api/v1/grid/demand/start
//	curl 'localhost:8080/api/v1/span?from=2024-01-05T20:00:00Z&to=2024-01-05T21:00:00Z'
//
// For more information about specific packages, see their respective
// documentation.
package currentcost
