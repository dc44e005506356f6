// Package scard executes redirected smart-card calls.
//
// Handler plugs into a smartcard.Device and translates device-control
// requests into calls on a Service. Emulator is an in-memory Service with
// virtual readers and cards, used by the bridge when no hardware service
// is configured and by tests.
//
// Contexts opened through EstablishContext are registered in the device's
// context registry, so a device reset cancels GetStatusChange calls
// blocked on them.
package scard
