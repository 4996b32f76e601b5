// Package events carries job transitions from the scheduler to observers.
//
// The Bus keeps a bounded ring of recent events with monotonically increasing
// sequence numbers and fans every published event out to registered
// observers. Observers that talk to the network (Redis audit stream, ntfy)
// are wrapped with Async so a slow remote never stalls dispatch. The Hub
// streams events to websocket clients for the /api/events endpoint.
package events
