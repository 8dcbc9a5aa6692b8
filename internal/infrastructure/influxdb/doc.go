// Package influxdb writes account activity counters to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Each login, logout,
// registration and refresh becomes one point in the account_activity
// measurement, which feeds rate and anomaly dashboards (login spikes,
// mass logout-all calls) without querying the SQL activity trail.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteActivity("login", "user", "success", time.Now())
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous write errors go to the SetOnError callback;
// connection and health check errors are returned directly.
package influxdb
