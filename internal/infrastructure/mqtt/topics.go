package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic this service publishes.
const TopicPrefix = "campusauth"

// Topics builds the service's MQTT topic names.
//
//	mqtt.Topics{}.Activity("login") // "campusauth/activity/login"
type Topics struct{}

// Status is the retained online/offline topic, also used for the LWT.
//
// Example: campusauth/system/status
func (Topics) Status() string {
	return TopicPrefix + "/system/status"
}

// Activity is the topic for one kind of account activity.
// Topic wildcard characters in action are replaced with "_".
//
// Example: campusauth/activity/logout_all
func (Topics) Activity(action string) string {
	return fmt.Sprintf("%s/activity/%s", TopicPrefix, sanitizeLevel(action))
}

// AllActivity matches every activity topic.
//
// Pattern: campusauth/activity/+
func (Topics) AllActivity() string {
	return TopicPrefix + "/activity/+"
}

var levelReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

func sanitizeLevel(s string) string {
	if s == "" {
		return "unknown"
	}
	return levelReplacer.Replace(s)
}
