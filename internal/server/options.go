package server

import (
	"time"

	"github.com/Pablu23/d2lookup/internal/common"
)

type Options struct {
	Address        string
	Port           int
	AckTimeout     time.Duration
	MaxRetries     int
	SessionTimeout time.Duration
	// BatchSize is the number of nodes packed into one DATA frame.
	BatchSize int
}

func NewDefaultOptions() *Options {
	return &Options{
		Address:        "0.0.0.0",
		Port:           2311,
		AckTimeout:     time.Second,
		MaxRetries:     10,
		SessionTimeout: 30 * time.Second,
		BatchSize:      common.MaxNodesPerBatch,
	}
}
