package detections

const (
	InputWidth      = 640
	InputHeight     = 640
	NumCandidates   = 8400
	NumChannels     = 5
	ConfThreshold   = 0.5
	IouThreshold    = 0.45
	RetryAttempts   = 3
	RetryDelayMs    = 100
	InputTensorKey  = "images"
	OutputTensorKey = "output0"
)
