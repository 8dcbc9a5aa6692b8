// Package mqtt publishes account activity to an MQTT broker.
//
// The service is a producer only. Each activity entry goes to
// campusauth/activity/{action} so downstream consumers (notification
// workers, security dashboards) can subscribe to just the events they
// care about. A retained status message on campusauth/system/status,
// backed by a Last Will, tells subscribers whether the service is up.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, version)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishEvent(mqtt.Topics{}.Activity("login"), payload)
//
// TLS (cfg.Broker.TLS) should be enabled outside local development.
package mqtt
