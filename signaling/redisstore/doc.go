// Package redisstore implements the signaling channel on Redis.
//
// Each tree node is stored as a plain key; child membership is tracked with
// a set plus an insertion-ordered list per parent, maintained atomically by
// a Lua script. Live notifications ride Redis pub/sub, one channel per tree
// node. A child-added subscription replays the parent's existing children
// from the list before live events, which preserves the at-least-once,
// insertion-ordered delivery contract of signaling.Channel.
package redisstore
