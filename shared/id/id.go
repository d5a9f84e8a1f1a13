// Package id provides ID generation helpers used across services.
package id

import (
	nanoid "github.com/matoous/go-nanoid/v2"
)

const DefaultLength = 21

const (
	PrefixTrace   = "trc"
	PrefixSession = "sess"
	PrefixTurn    = "turn"
	PrefixRequest = "req"
)

func New(prefix string) string {
	id, err := nanoid.New(DefaultLength)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewWithLength(prefix string, length int) string {
	id, err := nanoid.New(length)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewTrace() string   { return New(PrefixTrace) }
func NewSession() string { return New(PrefixSession) }
func NewTurn() string    { return New(PrefixTurn) }
func NewRequest() string { return New(PrefixRequest) }
