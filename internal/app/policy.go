package app

import "github.com/tmadeja/lectern/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickConn
	DropFrame
)

// Policy decides what happens to a subscriber whose send buffer is full.
type Policy interface {
	OnBackpressure(group core.Group, id core.ConnID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackpressure(group core.Group, id core.ConnID) BackpressureAction {
	return KickConn
}
