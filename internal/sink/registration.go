package sink

// State is the registration state of a client's sink slot.
type State int

const (
	Unregistered State = iota
	Registered
)

func (s State) String() string {
	switch s {
	case Registered:
		return "registered"
	default:
		return "unregistered"
	}
}

// Registration is a strict two-state toggle holding at most one sink. The
// zero value is Unregistered. It is not safe for concurrent use; the owner
// serializes access.
type Registration struct {
	state State
	sink  Sink
}

// Register moves Unregistered -> Registered(s).
func (r *Registration) Register(s Sink) error {
	if s == nil {
		return ErrNilSink
	}
	if r.state == Registered {
		return ErrAlreadyRegistered
	}
	r.state = Registered
	r.sink = s
	return nil
}

// Unregister moves Registered -> Unregistered.
func (r *Registration) Unregister() error {
	if r.state != Registered {
		return ErrNotRegistered
	}
	r.state = Unregistered
	r.sink = nil
	return nil
}

// Current returns the registered sink, if any.
func (r *Registration) Current() (Sink, bool) {
	if r.state != Registered {
		return nil, false
	}
	return r.sink, true
}

func (r *Registration) State() State {
	return r.state
}
