package models

// QueryHit is a point found within the query radius.
type QueryHit struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
}

// QueryResponse is the response for a range query. Hits are ordered by
// distance, then id.
type QueryResponse struct {
	Hits        []*QueryHit `json:"hits"`
	Total       int         `json:"total"`
	Radius      float64     `json:"radius"`
	DistanceOps int64       `json:"distance_ops"`
	// Pruned counts leaf members skipped by their stored vantage point
	// distances without computing the metric.
	Pruned    int64 `json:"pruned"`
	QueryTime int64 `json:"query_time_ms"`
}
