// Package dispatch runs the delivery goroutine of a trace client.
//
// A Loop owns exactly one goroutine. It drains the source once before its
// first wait so messages queued before the client attached are delivered,
// then alternates between blocking in Source.Wait and draining everything the
// source has pending. All deliveries happen on that goroutine, in the order
// the source returns them.
//
// Shutdown:
//   - Stop cancels the context handed to Source.Wait and blocks until the
//     goroutine has returned
//   - Source.ErrClosed from Wait or Drain also ends the loop
//   - any other Wait error is logged and ends the loop; Drain errors are
//     logged and the loop keeps waiting
//
// A panic raised by the deliver function is recovered and logged; the
// remaining messages of the batch are still delivered.
package dispatch
