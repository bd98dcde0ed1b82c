package classify

const (
	DefaultInputWidth  = 224
	DefaultInputHeight = 224
	Channels           = 3
	RetryAttempts      = 3
	RetryDelayMs       = 100
)
