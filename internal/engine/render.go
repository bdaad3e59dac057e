package engine

import "time"

// ServerTick returns the current tick implied by the transport's
// estimated server time.
func (e *Engine) ServerTick() (int64, error) {
	st, err := e.transport.ServerTime()
	if err != nil {
		return 0, err
	}
	return floorDiv(st*int64(e.tickRate), 1000), nil
}

// ComputeRenderState produces the value a caller should draw this
// frame: a remote-confirmed state lagged far enough behind the present
// to absorb reordering tolerance and half a round trip, composed with
// the unlagged local-predicted state via Smooth, per §4.6.
func (e *Engine) ComputeRenderState() (any, error) {
	curr, err := e.ServerTick()
	if err != nil {
		return nil, err
	}

	tolTicks := ceilDiv(e.toleranceMS*int64(e.tickRate), 1000)

	var halfRTTTicks int64
	if rtt, ok := e.transport.Ping(); ok && rtt >= 0 {
		pingMS := int64(rtt / time.Millisecond)
		halfRTTTicks = ceilDiv(pingMS*int64(e.tickRate), 2000)
	}

	remoteLag := max64(tolTicks, halfRTTTicks+1)
	remoteTick := max64(0, curr-remoteLag)

	remoteState := e.ComputeStateAt(remoteTick)
	localState := e.ComputeStateAt(curr)
	return e.smooth(remoteState, localState), nil
}
