// Package chat hosts the room chat that the dice bot lives in.
//
// It owns WebSocket lifecycle, message sequencing and fan-out, and hands every
// user message to the bot dispatcher so roll logic stays in the roll service.
package chat
