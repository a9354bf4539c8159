package main

import "time"

type CaptionResponse struct {
	Description string `json:"description"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type BenchResult struct {
	File        string
	Format      string
	Description string
	Duration    time.Duration
	Err         error
	Size        int64
}

type Agg struct {
	Count      int
	Failed     int
	Total      time.Duration
	TotalBytes int64
}
