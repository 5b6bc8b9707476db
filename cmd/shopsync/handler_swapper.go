package main

import (
	"net/http"
	"sync/atomic"
)

// handlerSwapper serves whichever API handler was built last. serve
// rebuilds the handler on SIGHUP when the /metrics route is toggled.
type handlerSwapper struct {
	current atomic.Pointer[http.Handler]
}

func newHandlerSwapper(h http.Handler) *handlerSwapper {
	s := &handlerSwapper{}
	s.Swap(h)
	return s
}

func (s *handlerSwapper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*s.current.Load()).ServeHTTP(w, r)
}

// Swap replaces the handler; requests already being served finish on the old one.
func (s *handlerSwapper) Swap(h http.Handler) {
	s.current.Store(&h)
}
