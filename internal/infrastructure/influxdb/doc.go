// Package influxdb writes dispatch metrics to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Client implements
// smartcard.Observer, so attaching it to a device records one
// irp_completion point per completed request; RunStatsLoop adds periodic
// device_stats points.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	dev.AddObserver(client)
//	go client.RunStatsLoop(ctx, dev, cfg.StatsInterval())
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Connection errors are returned directly; write errors
// are delivered to the SetOnError callback.
package influxdb
