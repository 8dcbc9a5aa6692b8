// Package audit records account activity: registrations, logins, logouts,
// password changes and status changes.
//
// Entries flow through a Dispatcher, which queues them and writes to each
// configured Sink on a background goroutine. The SQLite repository is the
// durable trail; MQTT and InfluxDB sinks are optional fan-out.
//
// Recording is best effort. A full queue or a failing sink is logged and
// never surfaces to the operation that produced the entry.
package audit
