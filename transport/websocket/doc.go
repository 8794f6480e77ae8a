// Package websocket pushes registry events to browser clients.
//
// A single Hub owns the set of connections. Every registry.Event passed to
// Broadcast is sent as one JSON text frame:
//
//	{"event":"add","name":"forest","state":{"configs":[...],"current":"forest","dirty":true}}
//
// New connections first receive an "init" frame with the current state.
//
// Usage:
//
//	hub := websocket.NewHub(reg.Snapshot)
//	go hub.Run(ctx)
//	reg.Subscribe(hub.Broadcast)
//	router.HandleFunc("/ws", hub.ServeWS)
//
// Incoming messages are read only to service pings and detect disconnects.
package websocket
