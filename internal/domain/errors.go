package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInsufficientCash = errors.New("insufficient cash")
	ErrNoPosition       = errors.New("no position to sell")
	ErrInvalidAction    = errors.New("invalid trade action")
	ErrInvalidRiskLevel = errors.New("invalid risk level")
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrAnalysisTimeout  = errors.New("analysis timed out")
	ErrAgentRunning     = errors.New("agent already running")
	ErrTaskNotFound     = errors.New("task not found")
)
