// Package mqtt connects scardbridge to its MQTT broker.
//
// The broker carries redirected IRPs between a remote-desktop peer and the
// bridge. This package wraps paho.mqtt.golang with:
//   - auto-reconnect with subscription restore
//   - a retained online/offline status per client, with a last-will
//     message for unexpected disconnects
//   - panic recovery around message handlers
//   - scardbridge topic builders (see Topics)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.IRP(bridgeID), 1,
//	    func(topic string, payload []byte) error {
//	        return bridge.HandleIRP(payload)
//	    })
//
// TLS should be enabled whenever the broker is not on localhost: APDUs
// may carry PINs.
package mqtt
