package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementAccountActivity holds one point per account event.
const MeasurementAccountActivity = "account_activity"

// WriteActivity records an account event. Tags stay low-cardinality
// (action, entity, outcome); per-user detail belongs in the SQL trail.
func (c *Client) WriteActivity(action, entity, outcome string, at time.Time) {
	if outcome == "" {
		outcome = "success"
	}
	c.WritePointWithTime(MeasurementAccountActivity,
		map[string]string{
			"action":  action,
			"entity":  entity,
			"outcome": outcome,
		},
		map[string]interface{}{
			"count": 1,
		},
		at,
	)
}

// WritePoint writes a custom point stamped with the current time.
//
//	client.WritePoint("sessions",
//	    map[string]string{"host": "auth-01"},
//	    map[string]interface{}{"active": 412})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with an explicit timestamp.
// The read lock is held across the write so Close cannot shut the batch
// channel underneath it.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.open {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
	c.points.Add(1)
}
