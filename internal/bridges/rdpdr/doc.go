// Package rdpdr carries redirected device I/O requests between MQTT and a
// smartcard.Device.
//
// A remote-desktop peer publishes each IRP as JSON on the bridge's irp
// topic. The bridge turns it into an irp.Request whose completion callback
// publishes the result on the completion topic, then submits it to the
// device. The peer announces itself on the announce topic whenever it
// (re)connects; the bridge answers by cancelling every blocked call on the
// device (Device.Init).
//
// Topic layout:
//
//	scardbridge/irp/{bridge_id}          in   IRPMessage
//	scardbridge/completion/{bridge_id}   out  CompletionMessage
//	scardbridge/announce/{bridge_id}     in   AnnounceMessage
//	scardbridge/health/{bridge_id}       out  HealthMessage (retained)
//
// Messages that do not decode are logged and dropped: without a trusted
// completion ID there is nothing to answer.
package rdpdr
