package model

import "time"

// VLMConfig holds the motion and sensor tuning parameters pushed to the
// hardware controller with a code 501 frame. Field layout mirrors the
// controller's configuration record.
type VLMConfig struct {
	NormalSpeed    int       `json:"normal_speed" db:"normal_speed"`
	ApproachSpeed  int       `json:"approach_speed" db:"approach_speed"`
	StepsPerFloor  int       `json:"steps_per_floor" db:"steps_per_floor"`
	StopPulse      int       `json:"stop_pulse" db:"stop_pulse"`
	ForwardPulse   int       `json:"forward_pulse" db:"forward_pulse"`
	BackwardPulse  int       `json:"backward_pulse" db:"backward_pulse"`
	CollectTime    int       `json:"collect_time" db:"collect_time"`
	ReturnTime     int       `json:"return_time" db:"return_time"`
	HallNThreshold int       `json:"hall_n_thresh" db:"hall_n_thresh"`
	HallSThreshold int       `json:"hall_s_thresh" db:"hall_s_thresh"`
	LastUpdated    time.Time `json:"last_updated,omitempty" db:"last_updated"`
}
