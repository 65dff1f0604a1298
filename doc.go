// Package peercall provides peer-to-peer audio/video call signaling and
// media negotiation over a shared tree-structured store.
//
// Two endpoints exchange an SDP offer, an answer, and trickled ICE
// candidates through call records written under the callee's inbox path.
// The media itself flows peer to peer over WebRTC; the store only relays
// signaling.
//
// Basic usage:
//
//	client, err := peercall.New(ctx, peercall.Options{
//		Identity: call.Identity{UserID: "alice", DisplayName: "Alice"},
//		Redis:    redisstore.Config{Addr: "localhost:6379"},
//		ICE:      media.ICEConfig{STUNServers: []string{"stun:stun.l.google.com:19302"}},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	callID, err := client.StartCall(ctx, "bob", signaling.CallTypeVideo)
//
// The receiving side observes its inbox with ListenIncoming and answers or
// rejects by call id. Call state transitions are reported through
// SetStateCallback.
package peercall
