package domain

// Progress is the tier an account holds and how far it is from the next one.
type Progress struct {
	Current      Definition  `json:"current"`
	Next         *Definition `json:"next,omitempty"`
	PointsToNext int64       `json:"points_to_next"`
}

type Service interface {
	Resolve(lifetimeEarned int64) Definition
	Progress(lifetimeEarned int64) Progress
	List() []Definition
}
