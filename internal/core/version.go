package core

// Version is reported by the server info metric and the health endpoints.
const Version = "0.3.0"

// TimeFormat is the layout used for timestamps in status snapshots and API responses.
const TimeFormat = "2006-01-02T15:04:05.000Z"
