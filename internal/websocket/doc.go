// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

/*
Package websocket implements both ends of the streaming channel.

StreamClient is the tracker side. It keeps one connection open to the
streaming endpoint and writes one JSON TrackingEvent per text frame. After
any close or error it waits a fixed delay and dials again, for as long as its
context lives. Nothing is queued while disconnected: Send fails fast with
ErrNotConnected and the batch path remains the durable copy.

Hub and Client are the receiver side, built on gorilla/websocket with the
usual read and write pumps:

	tracker ──frames──▶ Client.readPump ──▶ Hub.ingest ──▶ OnEvent
	                                          │
	                                          └─broadcast─▶ observer Clients

Producers are the trackers' streams. Observers are live viewers; every
ingested event is broadcast to them as a Message of type "event".

Keep-alive:

Both sides send pings every ping period and expect a pong within
pongWait. A peer that stops answering is disconnected by its read deadline.
*/
package websocket
