package mqtt

import "fmt"

// TopicPrefix is the root of every scardbridge topic.
const TopicPrefix = "scardbridge"

// Topics builds scardbridge topic names.
//
// Each bridge instance owns one topic per category, keyed by its bridge ID:
//
//	scardbridge/irp/{bridge_id}         peer -> bridge   IRPs to dispatch
//	scardbridge/completion/{bridge_id}  bridge -> peer   completed IRPs
//	scardbridge/announce/{bridge_id}    peer -> bridge   peer (re)connected
//	scardbridge/health/{bridge_id}      bridge -> all    retained health
//	scardbridge/status/{client_id}      bridge -> all    retained online/offline (LWT)
type Topics struct{}

// IRP returns the topic the bridge receives requests on.
func (Topics) IRP(bridgeID string) string {
	return fmt.Sprintf("%s/irp/%s", TopicPrefix, bridgeID)
}

// Completion returns the topic completed requests are published to.
func (Topics) Completion(bridgeID string) string {
	return fmt.Sprintf("%s/completion/%s", TopicPrefix, bridgeID)
}

// Announce returns the topic a peer publishes to when it (re)connects.
func (Topics) Announce(bridgeID string) string {
	return fmt.Sprintf("%s/announce/%s", TopicPrefix, bridgeID)
}

// Health returns the retained bridge health topic.
func (Topics) Health(bridgeID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, bridgeID)
}

// Status returns the retained connection status topic for an MQTT client.
func (Topics) Status(clientID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefix, clientID)
}

// AllHealth matches the health topic of every bridge.
func (Topics) AllHealth() string {
	return TopicPrefix + "/health/+"
}
