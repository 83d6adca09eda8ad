package hub

import "sync"

// Subscription delivers updates of the subscribed refs on C until Unsubscribe is called.
type Subscription struct {
	hub  *Hub
	keys []feedKey
	out  chan Update

	mu      sync.Mutex
	pending map[feedKey]Update
	order   []feedKey

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newSubscription(h *Hub, keys []feedKey) *Subscription {
	s := &Subscription{
		hub:     h,
		keys:    keys,
		out:     make(chan Update),
		pending: make(map[feedKey]Update),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.pump()

	return s
}

// C returns the update channel. It is closed after Unsubscribe or hub Close.
func (s *Subscription) C() <-chan Update {
	return s.out
}

// Unsubscribe detaches from all feeds. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.release(s)
		close(s.done)
	})
}

// closeLocal stops delivery without touching hub state.
func (s *Subscription) closeLocal() {
	s.once.Do(func() {
		close(s.done)
	})
}

// push queues u replacing any undelivered update of the same feed.
func (s *Subscription) push(key feedKey, u Update) {
	s.mu.Lock()
	if _, queued := s.pending[key]; !queued {
		s.order = append(s.order, key)
	}
	s.pending[key] = u
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) next() (Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		return Update{}, false
	}
	key := s.order[0]
	s.order = s.order[1:]
	u := s.pending[key]
	delete(s.pending, key)

	return u, true
}

func (s *Subscription) pump() {
	defer close(s.out)

	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			u, ok := s.next()
			if !ok {
				break
			}
			select {
			case s.out <- u:
			case <-s.done:
				return
			}
		}
	}
}
