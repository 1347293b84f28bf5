package session

// Observer receives every published snapshot in transition order. It is
// called synchronously and must not start orchestrator actions.
type Observer interface {
	SessionChanged(Snapshot)
}

type ObserverFunc func(Snapshot)

func (f ObserverFunc) SessionChanged(s Snapshot) {
	f(s)
}

// Subscribe registers obs and returns a function that removes it.
func (o *Orchestrator) Subscribe(obs Observer) func() {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	id := o.nextObs
	o.nextObs++
	o.observers[id] = obs
	return func() {
		o.obsMu.Lock()
		defer o.obsMu.Unlock()
		delete(o.observers, id)
	}
}

func (o *Orchestrator) notify(s Snapshot) {
	o.obsMu.Lock()
	list := make([]Observer, 0, len(o.observers))
	for id := 0; id < o.nextObs; id++ {
		if obs, ok := o.observers[id]; ok {
			list = append(list, obs)
		}
	}
	o.obsMu.Unlock()

	for _, obs := range list {
		obs.SessionChanged(s.clone())
	}
}
