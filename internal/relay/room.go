package relay

// Room pairs two matched clients. The initiator creates the offer.
type Room struct {
	ID        string
	Initiator *Client
	Responder *Client
}

// other returns the partner of c, or nil when c is not in the room or the
// partner already left.
func (r *Room) other(c *Client) *Client {
	switch c {
	case r.Initiator:
		return r.Responder
	case r.Responder:
		return r.Initiator
	default:
		return nil
	}
}
