package ecs

// System is a unit of logic run once per invocation of the phase it is registered to.
// Struct systems may hold View and Singleton fields, initialized by the scheduler at
// registration, plus any state that persists between frames.
type System interface {
	Run(frame *Frame) error
}

// SystemFunc adapts a function to the System interface.
type SystemFunc func(frame *Frame) error

// Run calls f(frame).
func (f SystemFunc) Run(frame *Frame) error {
	return f(frame)
}
