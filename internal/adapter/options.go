package adapter

// Options is the adapter's mutable protocol-command-driven option map,
// captured as a copy-on-write snapshot: WithOption builds a new value
// and the Connection atomically swaps it in, so a pipeline stage that has already
// loaded a snapshot is never torn by a concurrent protocol command.
type Options struct {
	ConversionRequired bool
	RelativeTime       bool
	RealTime           bool
	Device             string
	ShdrVersion        string
}

// WithOption returns a copy of o with the named recognized command
// applied. Unrecognized keys are returned unchanged.
func (o Options) WithOption(key, value string, isTrue func(string) bool) Options {
	next := o
	switch key {
	case "conversionRequired":
		next.ConversionRequired = isTrue(value)
	case "relativeTime":
		next.RelativeTime = isTrue(value)
	case "realTime":
		next.RealTime = isTrue(value)
	case "device":
		next.Device = value
	case "shdrVersion":
		next.ShdrVersion = value
	}
	return next
}
