package config

import "time"

type AssembleConfig struct {
	// HistoryCutoff is the recency window for conversation turns. Turns
	// older than this fall out of the window; retrieval in turn only
	// considers units created before the window opened.
	// Default: 15m
	HistoryCutoff time.Duration `json:"historyCutoff,omitempty"`

	// RetrieveLimit is the maximum number of memory units pulled alongside
	// history.
	// Default: 8
	RetrieveLimit int `json:"retrieveLimit,omitempty"`

	// MaxChars bounds the rendered context text. Overruns truncate from the
	// least-relevant end and are annotated, never silent. Zero means
	// unbounded.
	// Default: 8000
	MaxChars int `json:"maxChars,omitempty"`

	// RetrieveTimeout bounds the retrieval sub-call. Assembly is
	// interactive: when retrieval runs over, the context is assembled from
	// history alone instead of failing. Zero disables the bound.
	// Default: 3s
	RetrieveTimeout time.Duration `json:"retrieveTimeout,omitempty"`
}

func NewAssembleConfig() *AssembleConfig {
	return &AssembleConfig{
		HistoryCutoff:   15 * time.Minute,
		RetrieveLimit:   8,
		MaxChars:        8000,
		RetrieveTimeout: 3 * time.Second,
	}
}
