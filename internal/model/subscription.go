package model

// Subscription records one subscriber's interest in a symbol across a set of
// timeframes. The registry keeps at most one Subscription per
// (subscriber_id, symbol) pair; it is deleted when its timeframe set empties.
type Subscription struct {
	SubscriberID string
	Symbol       string
	Exchange     string
	Timeframes   map[Timeframe]struct{}
}

// HasTimeframe reports whether the subscription covers tf.
func (s *Subscription) HasTimeframe(tf Timeframe) bool {
	_, ok := s.Timeframes[tf]
	return ok
}
