package peer

import "time"

type Options struct {
	// AckTimeout bounds each wait for an acknowledgment.
	AckTimeout time.Duration
	// MaxRetries is how many retransmissions Send attempts before giving up.
	MaxRetries int
	// ReceiveTimeout bounds Receive. Zero blocks until a datagram arrives.
	ReceiveTimeout time.Duration
	// RetransmitDelay is slept between a failed wait and the retransmission.
	RetransmitDelay time.Duration
}

func NewDefaultOptions() *Options {
	return &Options{
		AckTimeout:      time.Second,
		MaxRetries:      10,
		ReceiveTimeout:  0,
		RetransmitDelay: 0,
	}
}
