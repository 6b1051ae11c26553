package fetchthreatintelips

type Input struct {
	RequestedBy     string `json:"requestedBy,omitempty"`
	PublishSnapshot *bool  `json:"publishSnapshot,omitempty"`
}

type Output struct {
	IPs               []string `json:"ips"`
	Count             int      `json:"count"`
	RunID             string   `json:"runId"`
	FetchedAt         string   `json:"fetchedAt"`
	ExclusionApplied  bool     `json:"exclusionApplied"`
	SnapshotPublished bool     `json:"snapshotPublished"`
}
