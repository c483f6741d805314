package main

const (
	exitCodeSuccess        = 0
	exitCodeUsage          = 1
	exitCodeStartFailed    = 2
	exitCodeCoverageLost   = 3
	exitCodeNotifierFailed = 4
)
