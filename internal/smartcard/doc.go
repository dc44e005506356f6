// Package smartcard implements the dispatch engine of a redirected smart-card
// device.
//
// A Device receives IRPs from the transport, classifies each device-control
// request, and either executes it inline on the device's single dispatcher
// goroutine or hands it to an independent worker. Lightweight context
// management calls stay ordered; blocking calls such as GetStatusChange never
// hold up the dispatcher.
//
// # Architecture
//
//	transport ──Submit──▶ ┌──────────────┐
//	                      │ Dispatch     │  FIFO, unbounded, quit sentinel
//	                      │ Queue        │
//	                      └──────┬───────┘
//	                             ▼
//	                      ┌──────────────┐     ┌──────────────────┐
//	                      │ dispatcher   │────▶│ Classify         │
//	                      │ goroutine    │     │ sync/async/unrec │
//	                      └──┬────────┬──┘     └──────────────────┘
//	                 inline  │        │ async
//	                         ▼        ▼
//	                   ┌─────────┐ ┌────────────┐
//	                   │ Handler │ │ worker     │──▶ Handler
//	                   └────┬────┘ └─────┬──────┘
//	                        └─────┬──────┘
//	                              ▼
//	                    Device.Complete ──▶ outstanding registry removal
//	                                    ──▶ req completion callback
//	                                    ──▶ observers
//
// # Cancellation
//
// Handlers that open session resources (smart-card contexts) register them
// in the device's context registry. Device.Init cancels every registered
// resource so that handlers parked in long waits wake up and complete their
// requests. Nothing is forcibly terminated.
//
// # Thread Safety
//
// Submit, Complete, Init and the registries are safe for concurrent use.
// Free must be called once, after the transport has stopped submitting.
package smartcard
